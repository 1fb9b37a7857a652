package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		event   string
		wantErr bool
	}{
		{name: "join", frame: `{"event":"join","data":{"username":"alice","userId":"u1"}}`, event: EventJoin},
		{name: "typing without data", frame: `{"event":"typing"}`, event: EventTyping},
		{name: "not json", frame: `hello`, wantErr: true},
		{name: "missing event", frame: `{"data":{}}`, wantErr: true},
		{name: "wrong event type", frame: `{"event":3}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedEvent))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, env.Event)
		})
	}
}

func TestEnvelopeBind(t *testing.T) {
	env, err := Decode([]byte(`{"event":"send-message","data":{"userId":"u1","username":"alice","text":"hi"}}`))
	require.NoError(t, err)

	var payload SendMessagePayload
	require.NoError(t, env.Bind(&payload))
	assert.Equal(t, "hi", payload.Text)
	assert.Equal(t, "u1", payload.UserID)

	empty := Envelope{Event: EventJoin}
	assert.ErrorIs(t, empty.Bind(&JoinPayload{}), ErrMalformedEvent)

	bad := Envelope{Event: EventJoin, Data: json.RawMessage(`"just a string"`)}
	assert.ErrorIs(t, bad.Bind(&JoinPayload{}), ErrMalformedEvent)
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	frame, err := Encode(EventReceiveMessage, MessagePayload{
		ID:        "m1",
		Username:  "alice",
		Text:      "hi",
		CreatedAt: created,
		UserID:    "u1",
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, EventReceiveMessage, decoded["event"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m1", data["id"])
	assert.Equal(t, "u1", data["userId"])
	assert.Equal(t, "2024-05-01T12:00:00Z", data["createdAt"])
}

func TestEncodeEmptySnapshotIsArray(t *testing.T) {
	frame, err := Encode(EventOnlineUsers, []OnlineUser{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"online-users","data":[]}`, string(frame))
}

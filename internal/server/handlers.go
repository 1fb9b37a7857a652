// Package server exposes HTTP handlers, including WebSocket upgrades, the
// account API, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatroom/internal/auth"
)

const maxRequestBodyBytes = 1 << 20

// WebSocketHandler upgrades the request, registers the connection with the
// coordinator and hands the client to the hub, which starts its pumps. When
// session tokens are enabled the request must carry a valid ?token=.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	var tokenUserID string
	if tokens := s.tokens(); tokens != nil {
		claims, err := tokens.Validate(r.URL.Query().Get("token"))
		if err != nil {
			log.Printf("Rejected WebSocket upgrade from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		tokenUserID = claims.Subject
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := newClient(conn, s.hub, s.coordinator, &s.cfg, r.RemoteAddr, tokenUserID)
	id, err := s.coordinator.Connect(client)
	if err != nil {
		log.Printf("Rejecting connection from %s: %v", client.addr, err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
	client.id = id
	log.Printf("Connection %s opened from %s", client.id, client.addr)

	if !s.hub.Register(client) {
		log.Printf("Hub stopped; closing connection from %s", client.addr)
		_ = s.coordinator.OnDisconnect(r.Context(), client.id)
		_ = conn.Close()
	}
}

func (s *Server) tokens() *auth.TokenManager {
	if s.auth == nil {
		return nil
	}
	return s.auth.Tokens()
}

// HealthHandler answers GET / with a JSON liveness message.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: healthMessage})
}

// RegisterHandler creates an account from {username, email, password}.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		log.Printf("Registration failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	log.Printf("Registered user %s (%s)", user.Username, user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User created successfully",
		User:    userView{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

// LoginHandler checks {email, password} and returns the user and, when
// enabled, a session token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	default:
		log.Printf("Login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Message: "Login successful",
		User:    userView{ID: user.ID, Username: user.Username, Email: user.Email},
		Token:   token,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// TestPageHandler serves an HTML page for exercising the chat protocol
// from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Room Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #online { color: #555; }
    </style>
</head>
<body>
    <h1>Chat Room Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userIdInput" placeholder="User ID">
        <input type="text" id="usernameInput" placeholder="Username">
        <input type="text" id="tokenInput" placeholder="Token (optional)">
        <button id="connectButton" onclick="toggleConnection()">Join</button>
    </div>
    <div id="online">Online: none</div>
    <div id="typing"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let typing = false;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Leave' : 'Join';
        }

        function handle(frame) {
            const msg = JSON.parse(frame);
            const data = msg.data;
            switch (msg.event) {
            case 'previous-messages':
                data.forEach(m => addLine(m.username + ': ' + m.text, 'black'));
                break;
            case 'receive-message':
                addLine(data.username + ': ' + data.text, 'green');
                break;
            case 'user-joined':
            case 'user-left':
                addLine(data.message);
                break;
            case 'online-users':
                document.getElementById('online').textContent =
                    'Online: ' + (data.length ? data.map(u => u.username).join(', ') : 'none');
                break;
            case 'user-typing':
                document.getElementById('typing').textContent = data.username + ' is typing...';
                break;
            case 'user-stop-typing':
                document.getElementById('typing').textContent = '';
                break;
            }
        }

        function connect() {
            const userId = document.getElementById('userIdInput').value.trim();
            const username = document.getElementById('usernameInput').value.trim();
            const token = document.getElementById('tokenInput').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            let url = scheme + location.host + '/ws';
            if (token) {
                url += '?token=' + encodeURIComponent(token);
            }
            ws = new WebSocket(url);

            ws.onopen = function() {
                updateStatus(true);
                emit('join', {userId: userId, username: username});
            };
            ws.onmessage = function(event) { handle(event.data); };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('Connection error');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text) {
                emit('send-message', {text: text});
                messageInput.value = '';
            }
            if (typing) {
                typing = false;
                emit('stop-typing', {});
            }
        }

        messageInput.addEventListener('input', function() {
            const active = messageInput.value.length > 0;
            if (active !== typing) {
                typing = active;
                emit(active ? 'typing' : 'stop-typing', {});
            }
        });
        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`

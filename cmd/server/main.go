package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/chatroom/internal/auth"
	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/server"
	"github.com/Tyrowin/chatroom/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("Starting chat room server...")

	config, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.Open(config.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	users := store.NewUserStore(db)
	messages := store.NewMessageStore(db)

	// Nobody is connected yet; clear flags left by an unclean exit.
	if err := users.ResetOnline(context.Background()); err != nil {
		log.Printf("Failed to reset online flags: %v", err)
	}

	coordinator := chat.NewCoordinator(messages, users, config.CoordinatorOptions())
	tokens := auth.NewTokenManager(config.JWTSecret, config.TokenTTL)
	if tokens == nil {
		log.Println("JWT_SECRET not set; WebSocket connections are not token-protected")
	}
	accounts := auth.NewService(users, auth.NewPasswordHasher(), tokens)

	srv := server.New(config, coordinator, accounts)
	srv.StartHub()

	httpServer := server.CreateServer(config.Port, srv.Routes())
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// One operation so the steps run in order: stop accepting, close
			// connections, drain room loops, then close the database.
			"chat-server": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				timeout := shutdownTimeout / 4
				if deadline, ok := ctx.Deadline(); ok {
					timeout = time.Until(deadline) / 4
				}

				var errs []error
				if err := server.ShutdownServer(httpServer, timeout); err != nil {
					errs = append(errs, err)
				}
				if err := srv.Hub().Shutdown(timeout); err != nil {
					errs = append(errs, err)
				}
				if err := coordinator.Shutdown(timeout); err != nil {
					errs = append(errs, err)
				}
				if err := store.Close(db); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/palaver/internal/live"
	"github.com/ehrlich-b/palaver/internal/logger"
	"github.com/ehrlich-b/palaver/internal/store"
	"github.com/ehrlich-b/palaver/internal/topics"
)

func serveCmd() *cobra.Command {
	var addrFlag string
	var sessionsFlag int
	var pauseFlag time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host back-to-back debates with a live viewer endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			addr := addrFlag
			if addr == "" {
				addr = cfg.Live.Addr()
			}
			srv := live.NewServer(cfg.Live)

			var archive *store.Store
			if cfg.Database.Path != "" {
				archive, err = store.Open(cfg.Database.Path)
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				defer archive.Close()
			}

			pool := topics.NewPool(cfg.Topics, cfg.TopicsFile)
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			httpDone := startLiveServer(ctx, srv, addr)
			defer func() { <-httpDone }()
			fmt.Printf("palaver serving viewers on %s\n", addr)
			if cfg.Live.JWTSecret != "" {
				if token, err := srv.IssueToken(); err == nil {
					fmt.Printf("viewer token: %s\n", token)
				}
			}

			// Long-running hosts pick up topics-file edits between
			// sessions.
			if cfg.TopicsFile != "" {
				go func() {
					if err := pool.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("topics watch ended", "error", err)
					}
				}()
			}

			for i := 0; sessionsFlag == 0 || i < sessionsFlag; i++ {
				if ctx.Err() != nil {
					break
				}
				topic := cfg.Topic
				if topic == "" {
					topic = pool.Random(rng)
				}
				results, err := runOneSession(ctx, cfg, topic, srv, archive)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					logger.Error("session failed", "error", err)
				} else {
					fmt.Printf("session complete: %q — winner: %s\n", topic, results.Winner)
				}

				select {
				case <-ctx.Done():
				case <-time.After(pauseFlag):
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (default from config)")
	cmd.Flags().IntVar(&sessionsFlag, "sessions", 0, "number of sessions to run (0 = until interrupted)")
	cmd.Flags().DurationVar(&pauseFlag, "pause", 30*time.Second, "pause between sessions")
	return cmd
}

// startLiveServer runs the viewer HTTP server until ctx is done. The
// returned channel closes after shutdown completes.
func startLiveServer(ctx context.Context, srv *live.Server, addr string) <-chan struct{} {
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
			srv.Close()
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("viewer server failed", "addr", addr, "error", err)
			}
		}
	}()
	return done
}

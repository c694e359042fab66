package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ambilio/workspace-console/internal/config"
	"github.com/ambilio/workspace-console/internal/keepalive"
	"github.com/ambilio/workspace-console/internal/lifecycle"
	"github.com/ambilio/workspace-console/internal/session"
	"github.com/ambilio/workspace-console/internal/web"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := session.NewSQLiteStore(cfg.TokenDBPath())
	if err != nil {
		log.Fatalf("open token store: %v", err)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sess := session.NewManager(store, apiBase(cfg.APIBaseURL), httpClient)
	client := lifecycle.New(apiBase(cfg.APIBaseURL), sess, httpClient)

	tracker := keepalive.NewTracker()
	runner := keepalive.NewRunner(client, tracker, cfg.HeartbeatInterval, cfg.OpenWindow)
	runner.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      web.NewRouter(web.NewServer(cfg.Routing(), sess, client, tracker)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("workspace-console listening on %s api=%s routing=%s", cfg.ListenAddr, cfg.APIBaseURL, cfg.RoutingMode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}

// apiBase normalizes the configured control-plane URL so path joins
// never double up on slashes.
func apiBase(raw string) string {
	return strings.TrimRight(raw, "/")
}

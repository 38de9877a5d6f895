// Command syncserver is the document synchronization service: it exposes a
// /health liveness check and a /ws channel endpoint over which clients
// join, create/update/delete documents, and replay their change log.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/docsync/internal/changelog"
	"github.com/Ap3pp3rs94/docsync/internal/channel"
	"github.com/Ap3pp3rs94/docsync/internal/config"
	"github.com/Ap3pp3rs94/docsync/internal/credentials"
	"github.com/Ap3pp3rs94/docsync/internal/db"
	"github.com/Ap3pp3rs94/docsync/internal/docstore"
	"github.com/Ap3pp3rs94/docsync/internal/errcodes"
	"github.com/Ap3pp3rs94/docsync/internal/hmacauth"
	"github.com/Ap3pp3rs94/docsync/internal/telemetry"
	"github.com/Ap3pp3rs94/docsync/internal/users"
)

func main() {
	configPath := flag.String("config", "", "path to a docsync.yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := telemetry.New(os.Stdout, telemetry.Options{Service: cfg.ServiceName, Level: telemetry.Level(cfg.LogLevel)})

	sqlDB, driver, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()

	if err := db.EnsureSchema(sqlDB, driver); err != nil {
		log.Fatalf("db: ensure schema: %v", err)
	}

	credStore := credentials.New(sqlDB, driver)
	verifier := hmacauth.New(credStore, cfg.AuthWindow)
	userDir := users.New(sqlDB, driver, cfg.AppNamespace)
	docs := docstore.New(sqlDB, driver)
	changes := changelog.New(sqlDB, driver)
	hub := channel.NewHub()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	deps := channel.Deps{
		Hub: hub, Verifier: verifier, Users: userDir, Documents: docs, Changes: changes, Log: logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth(sqlDB, logger)).Methods(http.MethodGet)
	router.HandleFunc("/ws", handleWS(upgrader, deps, logger)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info(ctx, "starting", map[string]any{"addr": cfg.ListenAddr, "driver": string(driver)})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "listen failed", map[string]any{"err": err})
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// handleHealth reports liveness unconditionally; the database ping is
// best-effort and never flips the response to unhealthy, since a
// transient DB hiccup shouldn't pull the instance out of rotation. A
// failed ping is logged with the Internal code's registered metadata
// (HTTP-equivalent status, retryable) rather than a bare message, so it
// carries the same structured fields as a wire-facing error.
func handleHealth(sqlDB *sql.DB, logger *telemetry.Logger) http.HandlerFunc {
	meta, _ := errcodes.Meta(errcodes.Internal)
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sqlDB.Ping(); err != nil {
			logger.Warn(r.Context(), "health: db ping failed", map[string]any{
				"code": string(errcodes.Internal), "http_status": meta.HTTPStatus, "retryable": meta.Retryable, "err": err,
			})
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func handleWS(upgrader websocket.Upgrader, deps channel.Deps, logger *telemetry.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn(r.Context(), "ws upgrade failed", map[string]any{"err": err})
			return
		}
		channel.Serve(r.Context(), conn, deps)
	}
}

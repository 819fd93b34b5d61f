/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave approval engine server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load optional .env, parse command-line flags
  2. Initialize SQLite store (ledger, directory, requests, history, audit)
  3. Optionally seed the demo directory
  4. Wire the saga, signal registry and runner
  5. Resume saga instances the previous process left pending
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port             HTTP server port (default: 8080)
  -db               SQLite database path (default: leave.db,
                    ":memory:" for in-memory)
  -seed             Load the demo directory when the db is empty
  -approval-timeout Decision wait ceiling (default: 168h)
  -audit-file       Mirror the audit trail to a JSON-lines file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (30s drain)
  2. Cancel in-flight sagas; interrupted instances resume from their
     recorded history on the next start
  3. Close the database

SEE ALSO:
  - api/server.go: Router configuration
  - saga/approval.go: The orchestration this binary hosts
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/audit"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/saga"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	// .env is optional; flags win over environment defaults.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "leave.db"), "SQLite database path")
	seed := flag.Bool("seed", false, "load demo directory when the database is empty")
	approvalTimeout := flag.Duration("approval-timeout", saga.DefaultApprovalTimeout, "decision wait ceiling")
	auditFile := flag.String("audit-file", "", "mirror audit trail to a JSON-lines file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	st, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer st.Close()

	ctx := context.Background()
	if *seed {
		if err := st.Seed(ctx); err != nil {
			logger.Fatal("failed to seed directory", zap.Error(err))
		}
	}

	var auditLog leave.AuditLog = sqlite.AuditSink{Store: st}
	if *auditFile != "" {
		auditLog = teeAudit{sqlite.AuditSink{Store: st}, audit.NewFileSink(*auditFile)}
	}

	signals := saga.NewRegistry(logger)
	approval := &saga.Saga{
		Ledger:    st,
		Directory: st,
		Requests:  st,
		Notifier: &notify.Retry{
			Next:   notify.NewLogSender(logger),
			Logger: logger,
		},
		Audit:   auditLog,
		History: st,
		Signals: signals,
		Timeout: *approvalTimeout,
		Logger:  logger,
	}
	runner := saga.NewRunner(approval, logger)

	// Requests left pending by the previous process replay their
	// recorded history and continue waiting for a decision.
	resumed, err := runner.ResumeInterrupted(ctx)
	if err != nil {
		logger.Fatal("failed to resume interrupted sagas", zap.Error(err))
	}
	if resumed > 0 {
		logger.Info("resumed interrupted sagas", zap.Int("count", resumed))
	}

	handler := &api.Handler{
		Runner:    runner,
		Signals:   signals,
		Requests:  st,
		Ledger:    st,
		Directory: st,
		Audit:     auditLog,
		Logger:    logger,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	runner.Shutdown()

	logger.Info("server stopped")
}

// teeAudit mirrors every entry into all sinks; reads come from the
// first. A failing mirror does not fail the append.
type teeAudit []leave.AuditLog

func (t teeAudit) Append(ctx context.Context, entry leave.AuditEntry) error {
	var firstErr error
	for _, sink := range t {
		if err := sink.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeAudit) ByRequest(ctx context.Context, requestID string) ([]leave.AuditEntry, error) {
	return t[0].ByRequest(ctx, requestID)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

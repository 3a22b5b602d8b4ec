package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/progression"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/internal/store"
)

var servePort int

const serviceName = "deal-stage-progression"

// progressionRunner is the runner surface the HTTP layer needs.
type progressionRunner interface {
	Run(ctx context.Context, opts progression.Options) (*progression.Summary, error)
}

// server carries handler dependencies and the last-run snapshot.
type server struct {
	runner   progressionRunner
	store    store.Store
	breakers *resilience.ServiceBreakers
	baseOpts progression.Options

	mu      sync.Mutex
	running bool
	lastRun *progression.Summary
}

// triggerRequest is the POST body for the scheduled-job endpoint. All
// fields are optional; absent fields fall back to configured defaults.
// DryRun is a pointer so an explicit false can override a true default.
type triggerRequest struct {
	BatchSize    int   `json:"batch_size"`
	DaysLookback int   `json:"days_lookback"`
	DryRun       *bool `json:"dry_run"`
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/scheduled-jobs/deal-stage-progression", func(r chi.Router) {
		r.Post("/", s.handleTrigger)
		r.Get("/status", s.handleStatus)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"detail": "store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTrigger runs one progression pass synchronously so the scheduler
// that fired the job sees the final statistics in its own response.
func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "a progression run is already in progress"})
		return
	}
	s.running = true
	s.mu.Unlock()

	opts := s.baseOpts
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.DaysLookback > 0 {
		opts.LookbackDays = req.DaysLookback
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}

	summary, err := s.runner.Run(r.Context(), opts)

	s.mu.Lock()
	s.running = false
	s.lastRun = summary
	s.mu.Unlock()

	if err != nil {
		zap.L().Error("progression run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": fmt.Sprintf("deal stage progression failed: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "completed",
		"run_id":     summary.RunID,
		"statistics": summary.Stats,
		"timestamp":  summary.FinishedAt.Format(time.RFC3339),
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	lastRun := s.lastRun
	s.mu.Unlock()

	status := "idle"
	if running {
		status = "running"
	}

	breakers := map[string]string{}
	if s.breakers != nil {
		for name, st := range s.breakers.States() {
			breakers[name] = st.String()
		}
	}

	// Service descriptor fields are static so schedulers can probe the
	// endpoint independent of any run.
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   serviceName,
		"available": true,
		"status":    status,
		"defaults": map[string]any{
			"batch_size":    s.baseOpts.BatchSize,
			"days_lookback": s.baseOpts.LookbackDays,
			"dry_run":       s.baseOpts.DryRun,
		},
		"last_run": lastRun,
		"breakers": breakers,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduled-job HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		handler := newRouter(&server{
			runner:   env.Runner,
			store:    env.Store,
			breakers: env.Breakers,
			baseOpts: runOptions(),
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

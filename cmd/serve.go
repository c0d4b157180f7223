package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kousu-tools/workload-form/internal/config"
	"github.com/kousu-tools/workload-form/internal/form"
	"github.com/kousu-tools/workload-form/internal/gateway"
	"github.com/kousu-tools/workload-form/internal/model"
	"github.com/kousu-tools/workload-form/internal/present"
	"github.com/kousu-tools/workload-form/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session API server",
	Long:  "Hosts form sessions over HTTP: field edits, ticket selection, overrides, and snapshots, one reactive session per client.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gw := gatewayFromConfig(cfg.Remote)
		mgr := newSessionManager(ctx, gw, cfg.Form.Debounce(), time.Duration(cfg.Server.SessionTTLMins)*time.Minute)
		defer mgr.closeAll()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(mgr),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "serve: listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			mgr.reapLoop(gctx)
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func gatewayFromConfig(rc config.RemoteConfig) gateway.Client {
	return gateway.NewClient(rc.BaseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: time.Duration(rc.TimeoutSecs) * time.Second}),
		gateway.WithRateLimit(rc.RateLimitPerSec),
		gateway.WithRetry(resilience.RetryConfig{
			MaxAttempts:    rc.MaxRetries,
			InitialBackoff: time.Duration(rc.BackoffMS) * time.Millisecond,
		}),
	)
}

type managedSession struct {
	sess     *form.Session
	lastUsed time.Time
}

// sessionManager owns the live sessions, keyed by opaque IDs handed to
// clients. Idle sessions are reaped after the configured TTL.
type sessionManager struct {
	ctx      context.Context
	gw       gateway.Client
	debounce time.Duration
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*managedSession
}

func newSessionManager(ctx context.Context, gw gateway.Client, debounce, ttl time.Duration) *sessionManager {
	return &sessionManager{
		ctx:      ctx,
		gw:       gw,
		debounce: debounce,
		ttl:      ttl,
		sessions: make(map[string]*managedSession),
	}
}

func (m *sessionManager) create() (string, *form.Session, error) {
	sess, err := form.NewSession(m.ctx, m.gw, present.LogAdapter{}, form.WithDebounce(m.debounce))
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &managedSession{sess: sess, lastUsed: time.Now()}
	m.mu.Unlock()
	zap.L().Info("session created", zap.String("session_id", id))
	return id, sess, nil
}

func (m *sessionManager) get(id string) (*form.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	ms.lastUsed = time.Now()
	return ms.sess, true
}

func (m *sessionManager) remove(id string) bool {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		ms.sess.Close()
		zap.L().Info("session closed", zap.String("session_id", id))
	}
	return ok
}

func (m *sessionManager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()
	for _, ms := range sessions {
		ms.sess.Close()
	}
}

func (m *sessionManager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap(time.Now())
		}
	}
}

func (m *sessionManager) reap(now time.Time) {
	var expired []*managedSession
	m.mu.Lock()
	for id, ms := range m.sessions {
		if now.Sub(ms.lastUsed) > m.ttl {
			delete(m.sessions, id)
			expired = append(expired, ms)
			zap.L().Info("session expired", zap.String("session_id", id))
		}
	}
	m.mu.Unlock()
	for _, ms := range expired {
		ms.sess.Close()
	}
}

func newRouter(mgr *sessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/sessions", func(api chi.Router) {
		api.Post("/", func(w http.ResponseWriter, _ *http.Request) {
			id, sess, err := mgr.create()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"session_id": id,
				"snapshot":   sess.Snapshot(),
			})
		})

		api.Route("/{session_id}", func(sr chi.Router) {
			sr.Use(mgr.withSession)

			sr.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, sessionFrom(r).Snapshot())
			})

			sr.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				mgr.remove(chi.URLParam(r, "session_id"))
				w.WriteHeader(http.StatusNoContent)
			})

			sr.Post("/select", func(w http.ResponseWriter, r *http.Request) {
				handleSelect(w, r, sessionFrom(r))
			})

			sr.Post("/recalculate", func(w http.ResponseWriter, r *http.Request) {
				sess := sessionFrom(r)
				sess.Recalculate()
				writeJSON(w, http.StatusOK, sess.Snapshot())
			})

			sr.Route("/fields/{field}", func(fr chi.Router) {
				fr.Post("/", func(w http.ResponseWriter, r *http.Request) {
					sess := sessionFrom(r)
					name, ok := fieldParam(w, r)
					if !ok {
						return
					}
					var req struct {
						Value string `json:"value"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeError(w, http.StatusBadRequest, "invalid request body")
						return
					}
					sess.SetField(name, req.Value)
					writeJSON(w, http.StatusOK, sess.Snapshot())
				})

				fr.Post("/focus", func(w http.ResponseWriter, r *http.Request) {
					sess := sessionFrom(r)
					name, ok := fieldParam(w, r)
					if !ok {
						return
					}
					sess.FocusField(name)
					writeJSON(w, http.StatusOK, sess.Snapshot())
				})

				fr.Post("/reset", func(w http.ResponseWriter, r *http.Request) {
					sess := sessionFrom(r)
					name, ok := fieldParam(w, r)
					if !ok {
						return
					}
					sess.ResetField(name)
					writeJSON(w, http.StatusOK, sess.Snapshot())
				})
			})
		})
	})

	return r
}

type sessionCtxKey struct{}

// withSession resolves the session_id URL parameter and stashes the
// session in the request context.
func (m *sessionManager) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := m.get(chi.URLParam(r, "session_id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionCtxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *form.Session {
	return r.Context().Value(sessionCtxKey{}).(*form.Session)
}

func fieldParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "field")
	for _, f := range model.AllFields {
		if f == name {
			return name, true
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("unknown field %q", name))
	return "", false
}

// handleSelect applies the subset of selection changes present in the
// body. Absent keys leave the current selection alone; empty strings
// clear it.
func handleSelect(w http.ResponseWriter, r *http.Request, sess *form.Session) {
	var req struct {
		ProjectID      *string `json:"project_id"`
		TicketID       *string `json:"ticket_id"`
		Classification *string `json:"classification"`
		YearMonth      *string `json:"year_month"`
		OrderDate      *string `json:"order_date"`
		EndDate        *string `json:"end_date"`
		AutoCalculate  *bool   `json:"auto_calculate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AutoCalculate != nil {
		sess.SetAutoCalculate(*req.AutoCalculate)
	}
	if req.YearMonth != nil {
		sess.SetYearMonth(*req.YearMonth)
	}
	if req.OrderDate != nil || req.EndDate != nil {
		cur := sess.Snapshot().Selection
		orderDate, endDate := cur.OrderDate, cur.EndDate
		if req.OrderDate != nil {
			orderDate = *req.OrderDate
		}
		if req.EndDate != nil {
			endDate = *req.EndDate
		}
		sess.SetDateRange(orderDate, endDate)
	}
	if req.Classification != nil {
		sess.SetClassification(*req.Classification)
	}
	if req.ProjectID != nil {
		sess.SelectProject(*req.ProjectID)
	}
	if req.TicketID != nil {
		sess.SelectTicket(*req.TicketID)
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

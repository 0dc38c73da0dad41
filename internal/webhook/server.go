// Package webhook exposes the HTTP surface: it receives charting-platform
// alerts, maps them onto strategy operations, and serializes access per
// underlying so near-simultaneous alerts for the same symbol cannot race.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"backspread-webhook/internal/journal"
	"backspread-webhook/internal/models"
)

// StrategyExecutor runs backspread entries.
type StrategyExecutor interface {
	ExecuteBackspread(ctx context.Context, u models.Underlying, side models.OptionSide, buyRatio, sellRatio int) (*models.BackspreadPlan, error)
}

// PositionCloser flattens positions for an underlying.
type PositionCloser interface {
	ClosePositions(ctx context.Context, u models.Underlying, fraction models.CloseFraction) (*models.ClosedSummary, error)
}

// TradeJournal records executed operations and serves the audit endpoint.
type TradeJournal interface {
	RecordPlan(command string, plan *models.BackspreadPlan) (journal.Entry, error)
	RecordClose(command string, summary *models.ClosedSummary) (journal.Entry, error)
	Recent(n int) []journal.Entry
}

type Config struct {
	Port           int
	AuthToken      string
	RequestTimeout time.Duration
}

type Server struct {
	router      *chi.Mux
	server      *http.Server
	executor    StrategyExecutor
	closer      PositionCloser
	journal     TradeJournal
	underlyings map[string]models.Underlying
	locks       map[string]*sync.Mutex
	logger      *logrus.Logger
	port        int
	authToken   string
}

func NewServer(
	cfg Config,
	executor StrategyExecutor,
	closer PositionCloser,
	trades TradeJournal,
	underlyings map[string]models.Underlying,
	logger *logrus.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	// One mutex per configured underlying, so concurrent webhook deliveries
	// for the same symbol execute sequentially.
	locks := make(map[string]*sync.Mutex, len(underlyings))
	for root := range underlyings {
		locks[root] = &sync.Mutex{}
	}

	s := &Server{
		router:      chi.NewRouter(),
		executor:    executor,
		closer:      closer,
		journal:     trades,
		underlyings: underlyings,
		locks:       locks,
		logger:      logger,
		port:        cfg.Port,
		authToken:   cfg.AuthToken,
	}

	s.setupRoutes(cfg.RequestTimeout)
	return s
}

func (s *Server) setupRoutes(requestTimeout time.Duration) {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Post("/webhook", s.handleWebhook)
	s.router.Get("/journal", s.handleJournal)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting webhook server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type alertPayload struct {
	Message string `json:"message"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload alertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error",
			"error":  "invalid JSON body",
		})
		return
	}

	cmd, err := ParseCommand(payload.Message)
	if err != nil {
		s.ignore(w, payload.Message, err.Error())
		return
	}

	u, ok := s.underlyings[cmd.Root]
	if !ok {
		s.ignore(w, cmd.Raw, fmt.Sprintf("unknown underlying %q", cmd.Root))
		return
	}
	if cmd.Kind == KindEntry && !u.AllowsRatio(cmd.BuyRatio) {
		s.ignore(w, cmd.Raw, fmt.Sprintf("ratio %d not configured for %s", cmd.BuyRatio, cmd.Root))
		return
	}

	lock := s.locks[cmd.Root]
	lock.Lock()
	defer lock.Unlock()

	switch cmd.Kind {
	case KindEntry:
		s.handleEntry(r.Context(), w, u, cmd)
	case KindExit:
		s.handleExit(r.Context(), w, u, cmd)
	}
}

func (s *Server) handleEntry(ctx context.Context, w http.ResponseWriter, u models.Underlying, cmd Command) {
	plan, err := s.executor.ExecuteBackspread(ctx, u, cmd.Side, cmd.BuyRatio, cmd.SellRatio)
	if err != nil {
		s.logger.WithError(err).WithField("command", cmd.Raw).Error("Backspread entry failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	if _, err := s.journal.RecordPlan(cmd.Raw, plan); err != nil {
		s.logger.WithError(err).Warn("Failed to journal entry")
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"command": cmd.Raw,
		"plan":    plan,
	})
}

func (s *Server) handleExit(ctx context.Context, w http.ResponseWriter, u models.Underlying, cmd Command) {
	summary, err := s.closer.ClosePositions(ctx, u, cmd.Fraction)
	if err != nil {
		s.logger.WithError(err).WithField("command", cmd.Raw).Error("Position close failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	if _, err := s.journal.RecordClose(cmd.Raw, summary); err != nil {
		s.logger.WithError(err).Warn("Failed to journal close")
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"command":          cmd.Raw,
		"positions_closed": summary.PositionsClosed,
		"closed":           summary.Closed,
	})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.journal.Recent(50),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) ignore(w http.ResponseWriter, message, reason string) {
	s.logger.WithFields(logrus.Fields{
		"message": message,
		"reason":  reason,
	}).Info("Ignoring webhook message")

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ignored",
		"message": message,
		"reason":  reason,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

var errNilDependency = errors.New("nil dependency")

// Validate reports wiring mistakes before the server starts listening.
func (s *Server) Validate() error {
	switch {
	case s.executor == nil:
		return fmt.Errorf("%w: executor", errNilDependency)
	case s.closer == nil:
		return fmt.Errorf("%w: closer", errNilDependency)
	case s.journal == nil:
		return fmt.Errorf("%w: journal", errNilDependency)
	case len(s.underlyings) == 0:
		return fmt.Errorf("no underlyings configured")
	}
	return nil
}

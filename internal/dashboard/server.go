// Package dashboard serves a read-only HTTP view of the play store and the
// account: play listings per lifecycle status, per-play detail, and summary
// statistics. It never mutates trading state.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/michael_scarn/internal/broker"
	"github.com/eddiefleurent/michael_scarn/internal/models"
	"github.com/eddiefleurent/michael_scarn/internal/store"
)

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     store.Interface
	broker    broker.Broker
	logger    *logrus.Logger
	addr      string
	authToken string
}

// Config configures the dashboard server.
type Config struct {
	ListenAddr string
	AuthToken  string
}

// PlayView is the wire shape of one play in listings.
type PlayView struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Contract       string    `json:"contract"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	Action         string    `json:"action"`
	Contracts      int       `json:"contracts"`
	EntryPremium   float64   `json:"entry_premium,omitempty"`
	CurrentPnL     float64   `json:"pnl,omitempty"`
	PnLPercent     float64   `json:"pnl_pct,omitempty"`
	ExitReason     string    `json:"exit_reason,omitempty"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	ClosedAt       time.Time `json:"closed_at,omitempty"`
	TrailingActive bool      `json:"trailing_active,omitempty"`
	TrailingTP1    float64   `json:"trailing_tp1,omitempty"`
}

// Statistics summarizes closed-play performance and current exposure.
type Statistics struct {
	TotalClosed   int     `json:"total_closed"`
	WinningPlays  int     `json:"winning_plays"`
	LosingPlays   int     `json:"losing_plays"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	CurrentOpen   int     `json:"current_open"`
	PendingOrders int     `json:"pending_orders"`
}

// NewServer creates a dashboard over the play store and broker account.
func NewServer(cfg Config, st store.Interface, b broker.Broker, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     st,
		broker:    b,
		logger:    logger,
		addr:      cfg.ListenAddr,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/plays", s.handleListPlays)
	s.router.Get("/api/plays/{id}", s.handleGetPlay)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/api/account", s.handleGetAccount)
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

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListPlays(w http.ResponseWriter, r *http.Request) {
	statuses := models.AllStatuses
	if q := r.URL.Query().Get("status"); q != "" {
		status := models.PlayStatus(q)
		if !status.Valid() {
			http.Error(w, "unknown status "+q, http.StatusBadRequest)
			return
		}
		statuses = []models.PlayStatus{status}
	}

	views := make([]PlayView, 0)
	for _, status := range statuses {
		plays, err := s.store.ListByStatus(status)
		if err != nil {
			s.logger.WithError(err).Error("Failed to list plays")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		for _, p := range plays {
			views = append(views, toView(p))
		}
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPlay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	play, _, err := s.store.Find(id)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toView(play))
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.calculateStatistics()
	if err != nil {
		s.logger.WithError(err).Error("Failed to calculate statistics")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.broker.GetAccount(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch account")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]float64{
		"buying_power":         acct.BuyingPower,
		"options_buying_power": acct.OptionsBuyingPower,
		"equity":               acct.Equity,
		"portfolio_value":      acct.PortfolioValue,
	})
}

func (s *Server) calculateStatistics() (*Statistics, error) {
	stats := &Statistics{}

	closed, err := s.store.ListByStatus(models.StatusClosed)
	if err != nil {
		return nil, err
	}
	for _, p := range closed {
		stats.TotalClosed++
		pnl := playPnL(p)
		stats.TotalPnL += pnl
		if pnl >= 0 {
			stats.WinningPlays++
		} else {
			stats.LosingPlays++
		}
	}
	if stats.TotalClosed > 0 {
		stats.WinRate = float64(stats.WinningPlays) / float64(stats.TotalClosed) * 100
	}

	open, err := s.store.ListByStatus(models.StatusOpen)
	if err != nil {
		return nil, err
	}
	stats.CurrentOpen = len(open)

	for _, status := range []models.PlayStatus{models.StatusPendingOpening, models.StatusPendingClosing} {
		plays, err := s.store.ListByStatus(status)
		if err != nil {
			return nil, err
		}
		stats.PendingOrders += len(plays)
	}
	return stats, nil
}

// playPnL is the realized P&L of a closed play in dollars. Short plays
// profit when the buyback premium is below the credit received.
func playPnL(p *models.Play) float64 {
	if p.Logging.PremiumAtOpen == 0 || p.Logging.PremiumAtClose == 0 {
		return 0
	}
	perContract := p.Logging.PremiumAtClose - p.Logging.PremiumAtOpen
	if p.Action.IsShort() {
		perContract = -perContract
	}
	return perContract * float64(p.Contracts) * 100
}

func toView(p *models.Play) PlayView {
	v := PlayView{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Contract:     p.OptionContractSymbol,
		Strategy:     p.StrategyName,
		Status:       string(p.Status.State),
		Action:       string(p.Action),
		Contracts:    p.Contracts,
		EntryPremium: p.Logging.PremiumAtOpen,
		ExitReason:   p.Logging.ExitReason,
		OpenedAt:     p.Logging.OpenedAt,
		ClosedAt:     p.Logging.ClosedAt,
	}
	if p.Status.State == models.StatusClosed {
		v.CurrentPnL = playPnL(p)
		if p.Logging.PremiumAtOpen > 0 {
			v.PnLPercent = v.CurrentPnL / (p.Logging.PremiumAtOpen * float64(p.Contracts) * 100) * 100
		}
	}
	if st := p.TakeProfit.TrailingState; st != nil {
		v.TrailingActive = st.Activated
		v.TrailingTP1 = st.TP1Level
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

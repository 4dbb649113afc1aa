// Package server assembles the chi HTTP router and wires every
// component's public surface onto spec §6's REST/WS contract,
// following the teacher's internal/server/server.go router-assembly
// and middleware-stack idiom.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/openalgo-bridge/internal/alerts"
	"github.com/aristath/openalgo-bridge/internal/auth"
	"github.com/aristath/openalgo-bridge/internal/marketfeed"
	"github.com/aristath/openalgo-bridge/internal/orders"
	"github.com/aristath/openalgo-bridge/internal/risk"
	"github.com/aristath/openalgo-bridge/internal/sandbox"
	"github.com/aristath/openalgo-bridge/internal/strategies"
	"github.com/aristath/openalgo-bridge/internal/symbols"
	"github.com/aristath/openalgo-bridge/internal/webhook"
)

// Config carries every collaborator the REST surface needs.
// MarketfeedProxy and WebhookHandler may be nil: the WS proxy is then
// not started and the webhook routes are not mounted.
type Config struct {
	Log     zerolog.Logger
	Port    int
	WSPort  int
	DevMode bool

	Gate            *auth.Gate
	Users           *auth.UserRegistry
	Orders          *orders.Router
	Sandbox         *sandbox.Engine
	Symbols         *symbols.Resolver
	Strategies      *strategies.Store
	Alerts          *alerts.Engine
	WebhookHandler  *webhook.Handler
	Risk            *risk.Coordinator
	MarketfeedProxy *marketfeed.Proxy

	RateLimitPerMinute int
	StartedAt          time.Time
	MarketTimezone     string
}

// Server is the C-independent HTTP surface: REST handlers delegate to
// the nine components, never reimplementing their logic.
type Server struct {
	router  *chi.Mux
	http    *http.Server
	log     zerolog.Logger
	cfg     Config
	limiter *tokenBucket
}

func New(cfg Config) *Server {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		limiter: newTokenBucket(cfg.RateLimitPerMinute),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(s.rateLimitMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.Get("/ping", s.handlePing)
	s.router.Get("/status", s.handleStatus)

	if s.cfg.WebhookHandler != nil {
		s.cfg.WebhookHandler.Routes(s.router)
	}

	s.router.Route("/", func(r chi.Router) {
		// Orders (spec §6 canonical endpoints).
		r.Post("/placeorder", s.handlePlaceOrder)
		r.Post("/placesmartorder", s.handlePlaceSmartOrder)
		r.Post("/modifyorder", s.handleModifyOrder)
		r.Post("/cancelorder", s.handleCancelOrder)
		r.Post("/cancelallorder", s.handleCancelAllOrders)
		r.Post("/closeposition", s.handleClosePosition)
		r.Post("/orderstatus", s.handleOrderStatus)
		r.Post("/basketorder", s.handleBasketOrder)
		r.Post("/splitorder", s.handleSplitOrder)
		r.Post("/optionsorder", s.handleOptionsOrder)

		// Data.
		r.Post("/quotes", s.handleQuotes)
		r.Post("/depth", s.handleDepth)
		r.Post("/history", s.handleHistory)
		r.Post("/ticker", s.handleTicker)
		r.Post("/intervals", s.handleIntervals)
		r.Post("/search", s.handleSearch)

		// Portfolio.
		r.Post("/orderbook", s.handleOrderbook)
		r.Post("/tradebook", s.handleTradebook)
		r.Post("/positionbook", s.handlePositionbook)
		r.Post("/holdings", s.handleHoldings)
		r.Post("/funds", s.handleFunds)

		// Market.
		r.Post("/margin", s.handleMargin)
		r.Post("/market/timings", s.handleMarketTimings)

		// Management: strategies.
		r.Post("/strategies/create", s.handleStrategyCreate)
		r.Post("/strategies/list", s.handleStrategyList)
		r.Post("/strategies/get", s.handleStrategyGet)
		r.Post("/strategies/update", s.handleStrategyUpdate)
		r.Post("/strategies/delete", s.handleStrategyDelete)
		r.Post("/strategies/deactivate", s.handleStrategyDeactivate)
		r.Post("/strategies/panic", s.handleStrategyPanic)

		// Management: alerts.
		r.Post("/alerts/create", s.handleAlertCreate)
		r.Post("/alerts/delete", s.handleAlertDelete)
		r.Post("/alerts/test", s.handleAlertTest)

		// Management: risk / analyzer toggle (spec §6 supplement).
		r.Post("/risk/analyzer", s.handleAnalyzerToggle)
		r.Post("/risk/panic", s.handleGlobalPanic)
		r.Post("/risk/resume", s.handleGlobalResume)
	})
}

// Start begins serving REST and, if configured, launches the
// marketfeed WS proxy on its own port per spec §4.4.
func (s *Server) Start() error {
	if s.cfg.MarketfeedProxy != nil {
		go s.startWS()
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

// startWS binds the WS proxy to its own port, walking forward to the
// next free port if the configured one is taken (spec §6: "if the
// requested port is in use... walks forward to the next available
// port and logs the choice").
func (s *Server) startWS() {
	port := s.cfg.WSPort
	for attempt := 0; attempt < 20; attempt++ {
		addr := fmt.Sprintf(":%d", port+attempt)
		ln, err := netListen(addr)
		if err != nil {
			continue
		}
		if attempt > 0 {
			s.log.Warn().Int("requested_port", s.cfg.WSPort).Int("bound_port", port+attempt).Msg("ws port in use, walked forward")
		}
		s.log.Info().Int("port", port+attempt).Msg("starting marketfeed ws proxy")
		srv := &http.Server{Handler: s.cfg.MarketfeedProxy}
		if err := srv.Serve(ln); err != nil {
			s.log.Error().Err(err).Msg("ws proxy stopped")
		}
		return
	}
	s.log.Error().Int("requested_port", s.cfg.WSPort).Msg("failed to bind ws proxy after 20 attempts")
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

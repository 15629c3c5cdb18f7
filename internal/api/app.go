package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-delaychat/internal/config"
	"github.com/npezzotti/go-delaychat/internal/database"
	"github.com/npezzotti/go-delaychat/internal/delay"
	"github.com/npezzotti/go-delaychat/internal/stats"
	"github.com/teris-io/shortid"
)

// globalConversationId is the seeded mission-wide conversation every
// account participates in.
const globalConversationId = 1

type DelayChatApp struct {
	log        *log.Logger
	db         database.DelayChatRepository
	mux        *http.Server
	clock      *delay.Clock
	stats      stats.StatsProvider
	cfg        *config.Config
	signingKey []byte
	// overridable in tests
	generateShortId func() (string, error)
}

func NewDelayChatApp(mux *http.ServeMux, logger *log.Logger, db database.DelayChatRepository, clock *delay.Clock, sp stats.StatsProvider, cfg *config.Config) *DelayChatApp {
	s := &DelayChatApp{
		log:             logger,
		db:              db,
		clock:           clock,
		stats:           sp,
		cfg:             cfg,
		signingKey:      cfg.SigningKey,
		generateShortId: shortid.Generate,
	}

	s.stats.RegisterMetric(stats.MessagesSent)
	s.stats.RegisterMetric(stats.DuplicateMessages)
	s.stats.RegisterMetric(stats.ActiveStreams)
	s.stats.RegisterMetric(stats.StreamEventsSent)
	s.stats.RegisterMetric(stats.StreamKeepAlivesSent)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("/api/account", s.authMiddleware(s.account))
	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.getConversations))
	mux.HandleFunc("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("POST /api/upload", s.authMiddleware(s.uploadFile))
	mux.HandleFunc("GET /api/delay", s.authMiddleware(s.getDelay))
	mux.HandleFunc("PUT /api/delay", s.authMiddleware(s.setDelay))
	mux.HandleFunc("GET /api/events", s.authMiddleware(s.events))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *DelayChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *DelayChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

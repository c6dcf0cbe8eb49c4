package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/drawboard/drawboard/internal/config"
	"github.com/drawboard/drawboard/internal/database"
	"github.com/drawboard/drawboard/internal/server"
)

type BoardApp struct {
	log            *log.Logger
	db             database.BoardRepository
	mux            *http.Server
	bs             *server.BoardServer
	signingKey     []byte
	allowedOrigins []string
	historyLimit   int

	generateShortId func() (string, error)
}

func NewBoardApp(mux *http.ServeMux, logger *log.Logger, bs *server.BoardServer, db database.BoardRepository, cfg *config.Config) *BoardApp {
	s := &BoardApp{
		log:             logger,
		db:              db,
		bs:              bs,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		historyLimit:    cfg.HistoryLimit,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /signup", s.signup)
	mux.HandleFunc("POST /signin", s.signin)
	mux.Handle("GET /me", s.authMiddleware(s.me))
	mux.Handle("GET /my-rooms", s.authMiddleware(s.myRooms))
	mux.Handle("POST /create-room", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /room/{slug}", s.roomBySlug)
	mux.Handle("GET /chats/{room}", s.authMiddleware(s.getChats))
	mux.Handle("POST /chats/{room}", s.authMiddleware(s.appendChat))
	mux.Handle("GET /rooms/{room}/scene", s.authMiddleware(s.getScene))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
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

func (s *BoardApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *BoardApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

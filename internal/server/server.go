package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"portal-chat/internal/hub"
	"portal-chat/internal/storage"
)

// Store is the persistence surface handlers rely on, implemented by storage.Store
type Store interface {
	CreateChannel(ctx context.Context, orgID, creatorID, name string, kind storage.ChannelKind, description string, memberIDs []string) (storage.Channel, error)
	ChannelsByUser(ctx context.Context, orgID, userID string) ([]storage.Channel, error)
	CanAccess(ctx context.Context, orgID, userID, channelID string) (bool, error)
	CreateMessage(ctx context.Context, orgID, channelID, senderID, senderName, content string, attachments []string) (storage.Message, error)
	MessagesByChannelID(ctx context.Context, orgID, channelID string) ([]storage.Message, error)
}

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer wires handlers over the provided store and broadcaster and returns
// a new Server struct. The broadcaster is an explicit dependency of the send
// path; nothing is fetched from request context.
func NewServer(logger *zap.Logger, store Store, b *hub.Hub, secret []byte, opts ...Option) (*Server, error) {
	sugar := logger.Sugar()

	hd := &handler{
		logger: sugar,
		store:  store,
		hub:    b,
		parsers: parsers{
			createChannelPool: fastjson.ParserPool{},
			createMessagePool: fastjson.ParserPool{},
		},
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		rest: map[string]http.Handler{
			"POST /channels":                     enforcePostJson(http.HandlerFunc(hd.createChannel)),
			"GET /channels":                      http.HandlerFunc(hd.channelsByUser),
			"POST /messages":                     enforcePostJson(http.HandlerFunc(hd.createMessage)),
			"GET /channels/{channelId}/messages": http.HandlerFunc(hd.messagesByChannelID),
		},
		ws: http.HandlerFunc(hd.serveWS),
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	for _, opt := range []Option{applyAuth(secret, sugar), applyLog(logger), registerHandlers()} {
		opt.apply(c)
	}

	return &Server{
		logger:        sugar,
		httpServer:    c.httpServer,
		afterShutdown: c.afterShutdown,
	}, nil
}

// applyAuth wraps every handler, websocket endpoint included, with bearer authentication
func applyAuth(secret []byte, logger *zap.SugaredLogger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.rest {
			c.rest[pattern] = authenticate(h, secret, logger)
		}
		c.ws = authenticate(c.ws, secret, logger)
	})
}

// applyLog wraps each http.Handler with log middleware
func applyLog(logger *zap.Logger) Option {
	return optionFunc(func(c *config) {
		for pattern, h := range c.rest {
			c.rest[pattern] = log(h, logger)
		}
		c.ws = log(c.ws, logger)
	})
}

// registerHandlers builds the http.ServeMux used as http.Handler for http.Server
func registerHandlers() Option {
	return optionFunc(func(c *config) {
		mux := http.NewServeMux()
		for pattern, h := range c.rest {
			mux.Handle(pattern, h)
		}
		mux.Handle("GET /ws", c.ws)
		c.httpServer.Handler = mux
	})
}

// Handler exposes the fully wrapped route tree, mainly for tests running the
// server inside httptest
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}

// Package devserver is a local stand-in for the hosted todos table. It
// serves the PostgREST routes and the Realtime v1 websocket the supabase
// backend talks to, storing rows in SQLite.
package devserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/idilsaglam/quicklist/internal/remote/supabase"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      Config
	topic    string
	store    *Store
	hub      *Hub
	logger   *zap.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	// writeMu keeps broadcasts in commit order.
	writeMu sync.Mutex
}

// New wires the routes over store. The caller keeps ownership of store.
func New(cfg Config, store *Store, logger *zap.Logger) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		topic:  supabase.Topic(cfg.Schema, cfg.Table),
		store:  store,
		hub:    NewHub(logger.Named("hub")),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/realtime/v1/websocket").HandlerFunc(s.handleRealtime)

	rest := r.PathPrefix("/rest/v1").Subrouter()
	rest.Use(s.requireKey, s.requireTable)
	rest.Methods(http.MethodGet).Path("/{table}").HandlerFunc(s.handleList)
	rest.Methods(http.MethodPost).Path("/{table}").HandlerFunc(s.handleInsert)
	rest.Methods(http.MethodPatch).Path("/{table}").HandlerFunc(s.handleUpdate)
	rest.Methods(http.MethodDelete).Path("/{table}").HandlerFunc(s.handleDelete)

	s.router = r
	return s
}

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled",
			zap.String("method", request.Method),
			zap.String("url", request.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
			zap.Int64("bytes", m.Written),
		)
	})
}

func (s *Server) Handler() http.Handler { return s.router }

// Hub exposes the realtime fan-out, mainly for tests.
func (s *Server) Hub() *Hub { return s.hub }

// Serve handles requests on ln until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("dev server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("table", s.topic))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// Hijacked websockets are not tracked by Shutdown.
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ListenAndServe opens cfg.DB and serves on cfg.Addr until ctx is done.
func ListenAndServe(ctx context.Context, cfg Config, logger *zap.Logger) error {
	cfg = cfg.withDefaults()
	store, err := OpenStore(cfg.DB, cfg.Table)
	if err != nil {
		return err
	}
	defer store.Close()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return New(cfg, store, logger).Serve(ctx, ln)
}

// Package httpdiag exposes Ethernet diagnostics and the AT command set over HTTP.
package httpdiag

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/soypat/ethat"
	"github.com/soypat/ethat/atcmd"
	"github.com/soypat/ethat/dhcps"
)

const (
	httpTimeout = 10 * time.Second
	maxATLine   = 256
)

type StatusSource interface {
	Status() (ethat.Status, error)
}

type LeaseSource interface {
	Leases() []dhcps.Lease
}

type Config struct {
	Status   StatusSource
	Leases   LeaseSource
	Registry *atcmd.Registry
	Logger   *slog.Logger
}

// Server serves:
//
//	GET  /eth/status   JSON status snapshot
//	GET  /eth/leases   JSON DHCP leases
//	GET  /at           registered AT command names
//	POST /at           body is one AT line; response is the console transcript
type Server struct {
	cfg    Config
	router *httprouter.Router
}

func New(cfg Config) *Server {
	s := &Server{cfg: cfg, router: httprouter.New()}
	if cfg.Status != nil {
		s.router.GET("/eth/status", s.handleStatus)
	}
	if cfg.Leases != nil {
		s.router.GET("/eth/leases", s.handleLeases)
	}
	if cfg.Registry != nil {
		s.router.GET("/at", s.handleCommands)
		s.router.POST("/at", s.handleAT)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.info("httpdiag:listen", slog.String("addr", addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
		return ctx.Err()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st, err := s.cfg.Status.Status()
	if err != nil {
		s.warn("httpdiag:status", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleLeases(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	leases := s.cfg.Leases.Leases()
	if leases == nil {
		leases = []dhcps.Lease{}
	}
	writeJSON(w, leases)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.cfg.Registry.Names())
}

func (s *Server) handleAT(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	line, err := io.ReadAll(io.LimitReader(r.Body, maxATLine+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(line) > maxATLine {
		http.Error(w, "AT line too long", http.StatusRequestEntityTooLarge)
		return
	}
	var out bytes.Buffer
	err = s.cfg.Registry.Dispatch(&out, string(line))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err != nil {
		s.debug("httpdiag:at", slog.String("line", string(line)), slog.String("err", err.Error()))
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	w.Write(out.Bytes())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func (s *Server) info(msg string, attrs ...slog.Attr) {
	s.logattrs(slog.LevelInfo, msg, attrs...)
}

func (s *Server) warn(msg string, attrs ...slog.Attr) {
	s.logattrs(slog.LevelWarn, msg, attrs...)
}

func (s *Server) debug(msg string, attrs ...slog.Attr) {
	s.logattrs(slog.LevelDebug, msg, attrs...)
}

func (s *Server) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

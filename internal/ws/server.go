// Package ws serves the host-facing HTTP API and the websocket endpoint
// panel renderers connect to.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/deathcounter/backend/internal/ledger"
	"github.com/deathcounter/backend/internal/metrics"
	"github.com/deathcounter/backend/internal/service"
	"github.com/deathcounter/backend/internal/session"
)

var log = logging.Logger("deathcounter/ws")

const (
	maxBodyBytes    = 1 << 20
	maxMessageBytes = 64 << 10
	defaultTop      = 5
	maxTop          = 100
)

// Runner executes fn on the service's dispatcher and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type Server struct {
	svc            *service.Service
	runner         Runner
	bridge         *Bridge
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

// NewServer creates a Server and subscribes the service to the bridge's
// availability changes.
func NewServer(svc *service.Service, runner Runner, bridge *Bridge, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		svc:            svc,
		runner:         runner,
		bridge:         bridge,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	bridge.SetListener(s.providerChanged)
	return s
}

// Handler returns the routes wrapped with the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/panel", s.handlePanelWS)
	mux.HandleFunc("POST /api/hooks/death", s.authed(s.handleDeath))
	mux.HandleFunc("POST /api/hooks/connect", s.authed(s.handleConnect))
	mux.HandleFunc("POST /api/hooks/disconnect", s.authed(s.handleDisconnect))
	mux.HandleFunc("POST /api/hooks/saved", s.authed(s.handleSaved))
	mux.HandleFunc("POST /api/commands", s.authed(s.handleCommand))
	mux.HandleFunc("GET /api/status", s.authed(s.handleStatus))
	mux.HandleFunc("GET /api/deaths", s.authed(s.handleTop))
	mux.HandleFunc("GET /api/deaths/{id}", s.authed(s.handleDeaths))
	mux.Handle("GET /metrics", metrics.Handler())
}

// providerChanged applies the bridge's availability as of when the
// callback runs on the dispatcher, so a stale notification is harmless.
func (s *Server) providerChanged(available bool) {
	err := s.runner.Do(context.Background(), func() {
		if s.bridge.Available() {
			s.svc.ProviderLoaded()
		} else {
			s.svc.ProviderUnloaded()
		}
	})
	if err != nil {
		log.Warnf("provider change (available=%v) not applied: %v", available, err)
	}
}

func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("ws upgrade error: %v", err)
		return
	}

	c, err := s.bridge.AddClient(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Infof("panel renderer connected: %s", r.RemoteAddr)
	conn.SetReadLimit(maxMessageBytes)

	go func() {
		defer func() {
			s.bridge.RemoveClient(c)
			log.Infof("panel renderer disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := s.bridge.handle(c, data); err != nil {
				s.bridge.sendTo(c, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: err.Error()}})
			}
		}
	}()
}

func (s *Server) handleDeath(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var n uint64
	if !s.run(w, r, func() { n = s.svc.EntityDied(req.ID) }) {
		return
	}
	writeJSON(w, http.StatusOK, DeathResponse{ID: req.ID, Deaths: n})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var p session.Player
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.ID == session.ConsoleID {
		http.Error(w, "id 0 is reserved for the console", http.StatusBadRequest)
		return
	}
	if !s.run(w, r, func() { s.svc.SessionConnected(&p) }) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req EntityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.run(w, r, func() { s.svc.SessionDisconnected(req.ID) }) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaved(w http.ResponseWriter, r *http.Request) {
	if !s.run(w, r, s.svc.ServerSaved) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "missing command name", http.StatusBadRequest)
		return
	}

	var resp CommandResponse
	ok := s.run(w, r, func() {
		reply := s.svc.Command(req.Subject, req.Name, req.Args)
		resp = CommandResponse{OK: reply.OK(), Lines: reply.Lines}
		if reply.Err != nil {
			resp.Error = reply.Err.Error()
		}
	})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st service.Status
	if !s.run(w, r, func() { st = s.svc.Status() }) {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	n := defaultTop
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 || v > maxTop {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		n = v
	}
	var top []ledger.Entry
	if !s.run(w, r, func() { top = s.svc.Top(n) }) {
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func (s *Server) handleDeaths(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var n uint64
	if !s.run(w, r, func() { n = s.svc.Deaths(ledger.EntityID(id)) }) {
		return
	}
	writeJSON(w, http.StatusOK, DeathResponse{ID: ledger.EntityID(id), Deaths: n})
}

// run executes fn on the dispatcher. It writes a 503 and returns false if
// the dispatcher is gone or the request was cancelled.
func (s *Server) run(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if err := s.runner.Do(r.Context(), fn); err != nil {
		log.Warnf("%s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-DeathCounter-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encoding response: %v", err)
	}
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

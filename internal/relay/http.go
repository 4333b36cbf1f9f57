package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"famtable/internal/errs"
	"famtable/internal/limiter"
	"famtable/internal/model"
	"famtable/internal/secretbox"
	"famtable/internal/wire"
)

// DefaultInviteTTL is how long an invite stays resolvable. Re-issuing for the
// same family refreshes the window on the existing code.
const DefaultInviteTTL = 72 * time.Hour

// Server serves the relay HTTP API and owns the fan-out hub.
type Server struct {
	log       *zap.Logger
	families  FamilyStore
	invites   InviteStore
	hub       *Hub
	lim       limiter.Limiter
	inviteTTL time.Duration
	now       func() time.Time
}

// NewServer wires the relay surface together. lim may be nil to disable
// invite-lookup throttling.
func NewServer(log *zap.Logger, families FamilyStore, invites InviteStore, hub *Hub, lim limiter.Limiter) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:       log,
		families:  families,
		invites:   invites,
		hub:       hub,
		lim:       lim,
		inviteTTL: DefaultInviteTTL,
		now:       time.Now,
	}
}

// Handler returns the routed relay API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/family/{id}", s.handleGetFamily)
	mux.HandleFunc("POST /api/family", s.handlePushFamily)
	mux.HandleFunc("POST /api/invite", s.handleCreateInvite)
	mux.HandleFunc("GET /api/invite/{code}", s.handleResolveInvite)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s.recovered(s.logged(mux))
}

func (s *Server) handleGetFamily(w http.ResponseWriter, r *http.Request) {
	rec, err := s.families.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "family not found")
			return
		}
		s.log.Error("family get", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, wire.FamilyResponse{
		Data:        string(rec.Blob),
		LastUpdated: rec.LastUpdated.UnixMilli(),
	})
}

func (s *Server) handlePushFamily(w http.ResponseWriter, r *http.Request) {
	var req wire.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FamilyID == "" || req.Data == "" {
		writeErr(w, http.StatusBadRequest, "familyId and data are required")
		return
	}
	if err := s.families.Put(r.Context(), req.FamilyID, model.Envelope(req.Data)); err != nil {
		s.log.Error("family put", zap.Error(err), zap.String("familyId", req.FamilyID))
		writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	// Fan the invalidation out to every joined socket except the saver's own.
	s.hub.Notify(req.FamilyID, r.Header.Get(wire.ClientIDHeader))
	writeJSON(w, http.StatusOK, wire.PushResponse{Success: true})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req wire.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FamilyID == "" || req.FamilyKey == "" {
		writeErr(w, http.StatusBadRequest, "familyId and familyKey are required")
		return
	}
	now := s.now()

	// Idempotent issuance: an existing live invite is refreshed, not replaced.
	inv, err := s.invites.GetByFamily(r.Context(), req.FamilyID, now)
	switch {
	case err == nil:
		inv.ExpiresAt = now.Add(s.inviteTTL)
	case errors.Is(err, errs.ErrNotFound):
		code, cerr := secretbox.GenerateFamilyCode()
		if cerr != nil {
			s.log.Error("invite code gen", zap.Error(cerr))
			writeErr(w, http.StatusInternalServerError, "storage error")
			return
		}
		inv = &Invite{
			Code:      code,
			FamilyID:  req.FamilyID,
			FamilyKey: req.FamilyKey,
			ExpiresAt: now.Add(s.inviteTTL),
		}
	default:
		s.log.Error("invite lookup", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	if err := s.invites.Put(r.Context(), *inv); err != nil {
		s.log.Error("invite put", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, wire.InviteCodeResponse{Code: inv.Code})
}

func (s *Server) handleResolveInvite(w http.ResponseWriter, r *http.Request) {
	ip := limiter.HashIP(clientIP(r))
	if s.lim != nil {
		allowed, _, err := s.lim.Allow(r.Context(), limiter.ScopeInvite, ip)
		if err != nil {
			s.log.Error("limiter allow", zap.Error(err))
		} else if !allowed {
			writeErr(w, http.StatusTooManyRequests, "too many attempts")
			return
		}
	}

	inv, err := s.invites.GetByCode(r.Context(), r.PathValue("code"), s.now())
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			if s.lim != nil {
				_, _, _ = s.lim.Failure(r.Context(), limiter.ScopeInvite, ip)
			}
			writeErr(w, http.StatusNotFound, "invite not found")
			return
		}
		s.log.Error("invite resolve", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "storage error")
		return
	}
	if s.lim != nil {
		_ = s.lim.Success(r.Context(), limiter.ScopeInvite, ip)
	}
	writeJSON(w, http.StatusOK, wire.InviteResolveResponse{
		FamilyID:  inv.FamilyID,
		FamilyKey: inv.FamilyKey,
	})
}

// RunJanitor purges expired invites every interval until ctx is done.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.invites.DeleteExpired(ctx, s.now())
			if err != nil {
				s.log.Warn("invite janitor", zap.Error(err))
			} else if n > 0 {
				s.log.Info("expired invites purged", zap.Int64("count", n))
			}
		}
	}
}

// ---- middleware ----

// logged mirrors the metadata-only request log: method, path, status, duration,
// peer. Never payloads.
func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.code),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", r.RemoteAddr),
		)
	})
}

func (s *Server) recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic", zap.Any("reason", rec), zap.String("path", r.URL.Path))
				writeErr(w, http.StatusInternalServerError, "internal")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.code = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade work through the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return hj.Hijack()
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, wire.ErrorResponse{Error: msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

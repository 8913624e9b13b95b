package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"promptvault/internal/app"
	"promptvault/internal/media"
	"promptvault/internal/ratelimit"
	"promptvault/internal/util"
	"promptvault/pkg/genai"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	RedisAddr                  string
	RedisPassword              string
	GenerateRateLimitPerMinute int
}

// Server exposes the HTTP endpoints of the service.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	generateLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. The generate limiter is
// only active when a Redis address is configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		limit := cfg.GenerateRateLimitPerMinute
		if limit <= 0 {
			limit = 30
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "promptvault:ratelimit:generate", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init generate limiter: %w", err)
		}
		s.generateLimiter = limiter
	}
	s.routes()
	return s, nil
}

// HTTPServer wraps a handler in a server with deployment timeouts. The write
// deadline must outlive the 60s generation upstream budget, otherwise an
// in-budget generation has its connection torn down before the response.
func HTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(
			util.WithSecurityHeaders(
				util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/records", s.handleRecords)
	s.mux.HandleFunc("/records/", s.handleRecordByID)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/generate", s.handleGenerate)
	s.mux.HandleFunc("/images/", s.handleImage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /records
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRecord(w, r)
	case http.MethodGet:
		s.handleListRecords(w, r)
	default:
		methodNotAllowed(w)
	}
}

type createRecordRequest struct {
	Prompt          string          `json:"prompt"`
	Result          json.RawMessage `json:"result"`
	MediaFileBase64 string          `json:"media_file_base64"`
	MediaType       string          `json:"media_type"`
	Metadata        map[string]any  `json:"metadata"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.app.CreateRecord(r.Context(), app.CreateRecordInput{
		Prompt:      req.Prompt,
		Result:      req.Result,
		MediaBase64: req.MediaFileBase64,
		MediaType:   req.MediaType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.app.ListRecords(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// /records/{id}
func (s *Server) handleRecordByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/records/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, err := s.app.GetRecord(r.Context(), id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		s.handleUpdateRecord(w, r, id)
	case http.MethodDelete:
		if err := s.app.DeleteRecord(r.Context(), id); err != nil {
			s.writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request, id string) {
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	var in app.UpdateRecordInput
	if raw, ok := payload["prompt"]; ok {
		if err := json.Unmarshal(raw, &in.Prompt); err != nil {
			writeError(w, http.StatusBadRequest, "prompt must be a string")
			return
		}
	}
	if raw, ok := payload["result"]; ok {
		in.Result = raw
	}
	rec, err := s.app.UpdateRecord(r.Context(), id, in)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// /history accepts push-delivered event envelopes.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var env struct {
		Message *struct {
			Data string `json:"data"`
		} `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	if env.Message == nil {
		writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	if env.Message.Data == "" {
		writeError(w, http.StatusBadRequest, "no data")
		return
	}
	if err := s.app.IngestRaw(r.Context(), env.Message.Data); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Prompt        string `json:"prompt"`
	Mode          string `json:"mode"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Style         string `json:"style"`
	Count         int    `json:"count"`
	SaveToHistory *bool  `json:"save_to_history"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowGenerate(w, r) {
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.app.Generate(r.Context(), app.GenerateInput{
		Prompt: req.Prompt,
		Mode:   req.Mode,
		Width:  req.Width,
		Height: req.Height,
		Style:  req.Style,
		Count:  req.Count,
		Save:   req.SaveToHistory,
	})
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// /images/{filename}
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/images/")
	if filename == "" {
		http.NotFound(w, r)
		return
	}
	data, contentType, err := s.app.ServeMedia(r.Context(), filename)
	if err != nil {
		var notFound *media.NotFoundError
		if errors.As(err, &notFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":                "image not found",
				"attempted_candidates": notFound.Attempted,
				"top_candidates":       notFound.TopCandidates,
				"substring_matches":    notFound.SubstringMatches,
			})
			return
		}
		s.writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}

func (s *Server) allowGenerate(w http.ResponseWriter, r *http.Request) bool {
	if s.generateLimiter == nil {
		return true
	}
	key := r.URL.Path + "|" + clientIP(r)
	if s.generateLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many generation requests")
	return false
}

func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrMissingFields),
		errors.Is(err, app.ErrPromptRequired),
		errors.Is(err, app.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		var decodeErr *app.DecodeError
		if errors.As(err, &decodeErr) {
			writeError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeGenerateError distinguishes upstream non-success (502) from an
// unreachable or timed-out upstream (503). Transport failures surface as
// *url.Error from the generation client; anything else is an internal fault.
func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrPromptRequired) || errors.Is(err, app.ErrInvalidMode) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var upstream *genai.UpstreamError
	if errors.As(err, &upstream) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":           "generation service error",
			"upstream_status": upstream.StatusCode,
			"detail":          upstream.Body,
		})
		return
	}
	var transport *url.Error
	if errors.As(err, &transport) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "generation service unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

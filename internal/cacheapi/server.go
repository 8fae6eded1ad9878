// Package cacheapi exposes a cache connector over plain HTTP.
package cacheapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seandlg/protoframe/internal/cacheservice"
	"github.com/seandlg/protoframe/internal/protoframe"
)

const requestTimeout = 15 * time.Second

type Server struct {
	client  *cacheservice.Client
	service *cacheservice.Server
}

// NewServer forwards requests through client. service may be nil when the
// cache runs in another process; stats and the event stream are then
// unavailable.
func NewServer(client *cacheservice.Client, service *cacheservice.Server) *Server {
	return &Server{client: client, service: service}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/cache/key/", s.handleKey)
	mux.HandleFunc("/api/cache/ping", s.handlePing)
	mux.HandleFunc("/api/cache/stats", s.handleStats)
	mux.HandleFunc("/api/cache/stream", s.handleStream)
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	if s.client == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cache/key/"), "/")
	if key == "" {
		writeError(w, http.StatusNotFound, "key missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		v, err := s.client.Get(ctx, key)
		if err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
	case http.MethodPut, http.MethodPost:
		value, err := readValue(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.client.Set(key, value); err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	case http.MethodDelete:
		if err := s.client.Delete(key); err != nil {
			writeCallError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if s.client == nil {
		writeError(w, http.StatusServiceUnavailable, "cache unavailable")
		return
	}
	start := time.Now()
	if err := s.client.Ping(r.Context()); err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rtt_ms": time.Since(start).Milliseconds()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "cache service not local")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": s.service.Stats()})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		writeError(w, http.StatusServiceUnavailable, "cache service not local")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel, err := s.service.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: change\ndata: " + string(msg.Payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// readValue accepts {"value": "..."} or a raw body.
func readValue(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return "", errors.New("invalid json")
		}
		return req.Value, nil
	}
	return string(body), nil
}

func writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protoframe.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, cacheservice.ErrEmptyKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

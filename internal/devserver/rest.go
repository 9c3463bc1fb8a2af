package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/model"
)

// restError is the PostgREST error body.
type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, restError{Code: code, Message: msg})
}

func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// requireKey accepts the key as apikey header or bearer token.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireTable rejects requests for any table but the configured one.
func (s *Server) requireTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := mux.Vars(r)["table"]
		schema := s.cfg.Schema
		if p := r.Header.Get("Accept-Profile"); p != "" {
			schema = p
		}
		if p := r.Header.Get("Content-Profile"); p != "" {
			schema = p
		}
		if table != s.cfg.Table || schema != s.cfg.Schema {
			writeError(w, http.StatusNotFound, "42P01",
				fmt.Sprintf("relation %q does not exist", schema+"."+table))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// idFilter parses the only supported filter, id=eq.N.
func idFilter(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		return 0, fmt.Errorf("an id=eq.<id> filter is required")
	}
	v, ok := strings.CutPrefix(raw, "eq.")
	if !ok {
		return 0, fmt.Errorf("unsupported filter id=%s", raw)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return id, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if sel := r.URL.Query().Get("select"); sel != "" && sel != "*" {
		writeError(w, http.StatusBadRequest, "PGRST100", "only select=* is supported")
		return
	}
	items, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "XX000", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// decodeInserts accepts a single object or an array of objects.
func decodeInserts(body []byte) ([]model.NewItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var many []model.NewItem
		err := json.Unmarshal(body, &many)
		return many, err
	}
	var one model.NewItem
	if err := json.Unmarshal(body, &one); err != nil {
		return nil, err
	}
	return []model.NewItem{one}, nil
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
		return
	}
	rows, err := decodeInserts(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "invalid body: "+err.Error())
		return
	}
	created := make([]model.Item, 0, len(rows))
	for _, in := range rows {
		it, err := s.insertAndBroadcast(r.Context(), in)
		if err != nil {
			s.logger.Error("insert failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "XX000", err.Error())
			return
		}
		created = append(created, it)
	}
	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusCreated, created)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) insertAndBroadcast(ctx context.Context, in model.NewItem) (model.Item, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	it, err := s.store.Insert(ctx, in)
	if err != nil {
		return model.Item{}, err
	}
	s.broadcast(string(model.EventInsert), it, nil)
	return it, nil
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}
	var patch model.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", "invalid body: "+err.Error())
		return
	}
	s.writeMu.Lock()
	before, after, ok, err := s.store.Update(r.Context(), id, patch)
	if err == nil && ok && !patch.Empty() {
		s.broadcast(string(model.EventUpdate), after, before)
	}
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("update failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "XX000", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}
	s.writeMu.Lock()
	old, ok, err := s.store.Delete(r.Context(), id)
	if err == nil && ok {
		s.broadcast(string(model.EventDelete), nil, old)
	}
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("delete failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "XX000", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

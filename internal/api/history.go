package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleHistory returns the newest parameter writes recorded for a device.
// The device need not be registered any more; history outlives presence.
//
// Query parameters:
//   - limit: number of entries (1..200, default 50)
//   - since: RFC3339 timestamp; only newer entries are returned
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" || len(address) > maxAddressLen {
		writeBadRequest(w, "invalid device address")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeUnavailable(w, "write history unavailable")
		return
	}

	entries, err := s.history.List(r.Context(), address, limit)
	if err != nil {
		s.logger.Error("listing write history failed", "address", address, "error", err)
		writeInternalError(w, "failed to load write history")
		return
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, e := range entries {
			if e.CreatedAt.After(since) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"history": entries,
		"count":   len(entries),
	})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}
	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339 or RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

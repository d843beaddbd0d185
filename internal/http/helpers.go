package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"noleggio/internal/core"
	"noleggio/internal/ledger"
)

const timeLayout = "2006-01-02 15:04:05"

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// parseFilter reads the optional category/instance query parameters. An
// absent or empty parameter means no filtering on that dimension.
func parseFilter(r *http.Request) ledger.Filter {
	var f ledger.Filter
	if v := strings.TrimSpace(r.URL.Query().Get("category")); v != "" {
		f.Category = &v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("instance")); v != "" {
		f.Instance = &v
	}
	return f
}

// parseTimestamp parses "YYYY-MM-DD HH:MM:SS", with RFC 3339 accepted as a
// fallback for API clients that send it.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// sessionView is the wire shape of one ledger row.
type sessionView struct {
	ID             int64    `json:"id"`
	Category       string   `json:"category"`
	Instance       string   `json:"instance"`
	RatePerHour    float64  `json:"rate_per_hour"`
	ElapsedSeconds *int64   `json:"elapsed_seconds"`
	TotalCost      float64  `json:"total_cost"`
	StartTime      string   `json:"start_time"`
	EndTime        *string  `json:"end_time"`
	Status         string   `json:"status"`
}

func toSessionView(s core.Session) sessionView {
	v := sessionView{
		ID:             s.ID,
		Category:       s.Category,
		Instance:       s.Instance,
		RatePerHour:    s.RatePerHour.Decimal(),
		ElapsedSeconds: s.ElapsedSeconds,
		TotalCost:      s.TotalCost.Decimal(),
		StartTime:      s.StartTime.UTC().Format(timeLayout),
		Status:         string(s.Status()),
	}
	if s.EndTime != nil {
		end := s.EndTime.UTC().Format(timeLayout)
		v.EndTime = &end
	}
	return v
}

func toSessionViews(sessions []core.Session) []sessionView {
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	return views
}

// meanTotalCost averages the total cost over the rows; zero rows average to
// zero rather than an error.
func meanTotalCost(sessions []core.Session) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var sum int64
	for _, s := range sessions {
		sum += s.TotalCost.Cents
	}
	return float64(sum) / float64(len(sessions)) / 100.0
}

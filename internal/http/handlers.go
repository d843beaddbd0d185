package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"noleggio/internal/core"
	applog "noleggio/internal/log"
)

// decimalAmount accepts either a JSON number or a decimal string
// ("2.50", "2,50").
type decimalAmount string

func (d *decimalAmount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = decimalAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = decimalAmount(n.String())
	return nil
}

// saveSessionRequest carries one ledger insert.
type saveSessionRequest struct {
	Category       string        `json:"category"`
	Instance       string        `json:"instance"`
	RatePerHour    decimalAmount `json:"rate_per_hour"`
	ElapsedSeconds *int64        `json:"elapsed_seconds"`
	TotalCost      decimalAmount `json:"total_cost"`
	StartTime      string        `json:"start_time"`
	EndTime        string        `json:"end_time"`
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req saveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rateCents, err := core.ParseDecimalToCents(string(req.RatePerHour))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid rate_per_hour")
		return
	}
	costCents := int64(0)
	if req.TotalCost != "" {
		costCents, err = core.ParseDecimalToCents(string(req.TotalCost))
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid total_cost")
			return
		}
	}

	start, err := parseTimestamp(req.StartTime)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid start_time")
		return
	}
	var end *time.Time
	if strings.TrimSpace(req.EndTime) != "" {
		t, err := parseTimestamp(req.EndTime)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, "invalid end_time")
			return
		}
		end = &t
	}

	sess := core.Session{
		Category:       sanitizeInput(req.Category),
		Instance:       sanitizeInput(req.Instance),
		RatePerHour:    core.Money{Cents: rateCents},
		ElapsedSeconds: req.ElapsedSeconds,
		TotalCost:      core.Money{Cents: costCents},
		StartTime:      start,
		EndTime:        end,
	}

	id, err := s.sessions.SaveSession(r.Context(), sess)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.LogError(r.Context(), "Save session error", err, applog.OpSave,
			applog.NewFields().WithSession(0, sess.Category, sess.Instance))
		respondError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	s.logger.LogSessionSaved(r.Context(), id, sess.Category, sess.Instance, sess.TotalCost.Cents)

	sess.ID = id
	respondJSON(w, http.StatusCreated, toSessionView(sess))
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		core.ErrEmptyCategory,
		core.ErrEmptyInstance,
		core.ErrInvalidRate,
		core.ErrInvalidCost,
		core.ErrZeroStartTime,
		core.ErrOpenWithEnd,
		core.ErrClosedNoEnd,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

type deleteSessionRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req deleteSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "id must be positive")
		return
	}

	if err := s.sessions.DeleteByID(r.Context(), req.ID); err != nil {
		slog.ErrorContext(r.Context(), "Delete session error", "error", err, "id", req.ID)
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": req.ID})
}

type deletePairRequest struct {
	Category string `json:"category"`
	Instance string `json:"instance"`
}

func (s *Server) handleDeletePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req deletePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	category := sanitizeInput(req.Category)
	instance := sanitizeInput(req.Instance)
	if category == "" || instance == "" {
		respondError(w, http.StatusUnprocessableEntity, "category and instance are required")
		return
	}

	if err := s.sessions.DeleteByCategoryInstance(r.Context(), category, instance); err != nil {
		slog.ErrorContext(r.Context(), "Delete pair error", "error", err,
			"category", category, "instance", instance)
		respondError(w, http.StatusInternalServerError, "failed to delete sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": category, "instance": instance})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessions, err := s.sessions.ActiveSessions(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Active sessions error", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list active sessions")
		return
	}
	respondJSON(w, http.StatusOK, toSessionViews(sessions))
}

// handlePeriodReport serves daily/weekly/monthly/yearly reports; the period
// is the last path segment.
func (s *Server) handlePeriodReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	period := core.Period(path.Base(r.URL.Path))
	sessions, err := s.sessions.Report(r.Context(), period, parseFilter(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "Report error", "error", err, "period", period)
		respondError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, toSessionViews(sessions))
}

func (s *Server) handleCustomReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start, err := core.ParseDate(strings.TrimSpace(r.URL.Query().Get("start")))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid start date, expected YYYY-MM-DD")
		return
	}
	end, err := core.ParseDate(strings.TrimSpace(r.URL.Query().Get("end")))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid end date, expected YYYY-MM-DD")
		return
	}

	sessions, err := s.sessions.ReportRange(r.Context(), start, end, parseFilter(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "Custom report error", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	respondJSON(w, http.StatusOK, toSessionViews(sessions))
}

type averageResponse struct {
	Period           string        `json:"period"`
	SessionCount     int           `json:"session_count"`
	AverageTotalCost float64       `json:"average_total_cost"`
	Sessions         []sessionView `json:"sessions"`
}

func (s *Server) handleMonthlyAverage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	month := strings.TrimSpace(r.URL.Query().Get("month"))
	sessions, err := s.sessions.MonthlyAveragePopulation(r.Context(), month, parseFilter(r))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid month, expected YYYY-MM")
		return
	}
	respondJSON(w, http.StatusOK, averageResponse{
		Period:           month,
		SessionCount:     len(sessions),
		AverageTotalCost: meanTotalCost(sessions),
		Sessions:         toSessionViews(sessions),
	})
}

func (s *Server) handleYearlyAverage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	year := strings.TrimSpace(r.URL.Query().Get("year"))
	sessions, err := s.sessions.YearlyAveragePopulation(r.Context(), year, parseFilter(r))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid year, expected YYYY")
		return
	}
	respondJSON(w, http.StatusOK, averageResponse{
		Period:           year,
		SessionCount:     len(sessions),
		AverageTotalCost: meanTotalCost(sessions),
		Sessions:         toSessionViews(sessions),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	s.handleCatalogList(w, r, s.sessions.Categories)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	s.handleCatalogList(w, r, s.sessions.Instances)
}

func (s *Server) handleCatalogList(w http.ResponseWriter, r *http.Request, list func(ctx context.Context) ([]string, error)) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	values, err := list(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Catalog list error", "error", err, "url", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "failed to list catalog")
		return
	}
	if values == nil {
		values = []string{}
	}
	respondJSON(w, http.StatusOK, values)
}

type combinationView struct {
	Category string `json:"category"`
	Instance string `json:"instance"`
}

func (s *Server) handleCombinations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pairs, err := s.sessions.CategoryInstancePairs(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Combinations error", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list combinations")
		return
	}
	views := make([]combinationView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, combinationView{Category: p.Category, Instance: p.Instance})
	}
	respondJSON(w, http.StatusOK, views)
}

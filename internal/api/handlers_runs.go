package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// parseDay accepts a date (2006-01-02) or an RFC 3339 timestamp.
func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

type ingestRequest struct {
	Metric  string `json:"metric"`
	Records []struct {
		EntityKey string  `json:"entity_key"`
		Day       string  `json:"day"`
		Flagged   bool    `json:"flagged"`
		Amount    float64 `json:"amount"`
	} `json:"records"`
}

// ingestRecords accepts raw operational records from upstream producers.
func (s *Server) ingestRecords(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if len(req.Records) == 0 {
		JSONError(w, NewBadRequest("records are required"))
		return
	}

	metric := models.ParseMetric(req.Metric)
	now := time.Now().UTC()
	records := make([]*models.RawRecord, 0, len(req.Records))
	for _, rec := range req.Records {
		day, err := parseDay(rec.Day)
		if err != nil {
			JSONError(w, NewBadRequest("invalid day: "+rec.Day))
			return
		}
		records = append(records, &models.RawRecord{
			ID:        uuid.New().String(),
			Tenant:    tenant,
			Metric:    metric,
			EntityKey: rec.EntityKey,
			Day:       day.UTC(),
			Flagged:   rec.Flagged,
			Amount:    rec.Amount,
			CreatedAt: now,
		})
	}

	if err := s.storage.Records().Insert(r.Context(), records); err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("record ingest failed")
		JSONError(w, ErrInternalServer)
		return
	}
	Created(w, map[string]int{"inserted": len(records)})
}

type runRequest struct {
	Metric string `json:"metric"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	AsOf   string `json:"as_of,omitempty"`
}

// runAggregate triggers a window aggregation run.
func (s *Server) runAggregate(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	start, err := parseDay(req.Start)
	if err != nil {
		JSONError(w, NewBadRequest("invalid start date"))
		return
	}
	end, err := parseDay(req.End)
	if err != nil {
		JSONError(w, NewBadRequest("invalid end date"))
		return
	}

	count, err := s.aggregator.Run(r.Context(), tenant, models.ParseMetric(req.Metric), start.UTC(), end.UTC())
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("aggregation run failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]int{"aggregates": count})
}

// runDetect triggers a signal detection run.
func (s *Server) runDetect(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := parseDay(req.AsOf)
		if err != nil {
			JSONError(w, NewBadRequest("invalid as_of date"))
			return
		}
		asOf = parsed.UTC()
	}

	signals, err := s.detector.Run(r.Context(), tenant, models.ParseMetric(req.Metric), asOf)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("detection run failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]any{"detected": len(signals), "signals": signals})
}

// listSignals returns the tenant's most recent signals.
func (s *Server) listSignals(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	signals, err := s.storage.Signals().ListByTenant(r.Context(), tenant, 100, 0)
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, signals)
}

// getSignal returns one signal by id.
func (s *Server) getSignal(w http.ResponseWriter, r *http.Request) {
	signal, err := s.storage.Signals().GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("signal not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, signal)
}

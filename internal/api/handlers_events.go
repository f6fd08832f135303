package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/driftwatch/internal/feedback"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

// evaluateSignal runs all enabled tenant rules against one signal.
func (s *Server) evaluateSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.evaluator.EvaluateSignal(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("signal not found"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("signal_id", id).Msg("signal evaluation failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, res)
}

// evaluateTenant evaluates the tenant's recent signals in one pass.
func (s *Server) evaluateTenant(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := s.evaluator.EvaluateTenant(r.Context(), tenant, limit)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("tenant evaluation failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, results)
}

// dispatchEvent notifies for one alert event.
func (s *Server) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.dispatcher.Dispatch(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("event not found"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("event_id", id).Msg("dispatch failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, res)
}

// dispatchPending processes every pending event for the tenant.
func (s *Server) dispatchPending(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	batch, err := s.dispatcher.DispatchPending(r.Context(), tenant)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("batch dispatch failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, batch)
}

// getEvent returns one alert event by id.
func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.storage.Events().GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("event not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, event)
}

// listPendingEvents returns the tenant's pending alert events.
func (s *Server) listPendingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.storage.Events().ListPending(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, events)
}

// submitJudgment records operator feedback on an event.
func (s *Server) submitJudgment(w http.ResponseWriter, r *http.Request) {
	var sub feedback.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	sub.EventID = chi.URLParam(r, "id")

	j, err := s.feedback.Submit(r.Context(), sub)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("event not found"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("event_id", sub.EventID).Msg("judgment submission failed")
		JSONError(w, NewBadRequest(err.Error()))
		return
	}
	Created(w, j)
}

// suppressionContext returns advisory suppression history for an event.
func (s *Server) suppressionContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := s.storage.Events().GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("event not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}

	sc, err := s.suppressor.Context(r.Context(), event)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", id).Msg("suppression context lookup failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, sc)
}

// listEventAudit returns the audit trail for an event.
func (s *Server) listEventAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.storage.Audit().ListByRef(r.Context(), chi.URLParam(r, "id"), 100)
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, records)
}

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

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.storage.Rules().List(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, rules)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	rule.Tenant = chi.URLParam(r, "tenant")
	if err := rule.Validate(); err != nil {
		JSONError(w, NewBadRequest(err.Error()))
		return
	}

	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err := s.storage.Rules().Create(r.Context(), &rule)
	if errors.Is(err, storage.ErrDuplicate) {
		JSONError(w, NewConflict("a rule with that name already exists"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("tenant", rule.Tenant).Msg("rule creation failed")
		JSONError(w, ErrInternalServer)
		return
	}
	Created(w, rule)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.storage.Rules().GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("rule not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	existing, err := s.storage.Rules().GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("rule not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}

	var rule models.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	rule.ID = existing.ID
	rule.Tenant = existing.Tenant
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := rule.Validate(); err != nil {
		JSONError(w, NewBadRequest(err.Error()))
		return
	}

	if err := s.storage.Rules().Update(r.Context(), &rule); err != nil {
		s.log.Error().Err(err).Str("rule_id", rule.ID).Msg("rule update failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	err := s.storage.Rules().Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("rule not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	NoContent(w)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}

	err := s.storage.Rules().SetEnabled(r.Context(), chi.URLParam(r, "id"), req.Enabled)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("rule not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, map[string]bool{"enabled": req.Enabled})
}

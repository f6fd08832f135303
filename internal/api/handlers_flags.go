package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/driftwatch/internal/flags"
	"github.com/good-yellow-bee/driftwatch/internal/models"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

type flagRequest struct {
	Enabled           bool `json:"enabled"`
	RolloutPercentage int  `json:"rollout_percentage"`
	EnabledDev        bool `json:"enabled_dev"`
	EnabledStaging    bool `json:"enabled_staging"`
	EnabledProd       bool `json:"enabled_prod"`
}

// upsertFlag creates or updates a feature flag by name.
func (s *Server) upsertFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if req.RolloutPercentage < 0 || req.RolloutPercentage > 100 {
		JSONError(w, NewBadRequest("rollout_percentage must be 0-100"))
		return
	}

	now := time.Now().UTC()
	flag := &models.FeatureFlag{
		ID:                uuid.New().String(),
		Name:              name,
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		EnabledDev:        req.EnabledDev,
		EnabledStaging:    req.EnabledStaging,
		EnabledProd:       req.EnabledProd,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.storage.Flags().UpsertFlag(r.Context(), flag); err != nil {
		s.log.Error().Err(err).Str("flag", name).Msg("flag upsert failed")
		JSONError(w, ErrInternalServer)
		return
	}

	stored, err := s.storage.Flags().GetFlag(r.Context(), name)
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, stored)
}

// flagEnabled evaluates a flag for the actor in the query string.
func (s *Server) flagEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	actor := flags.Actor{
		Tenant: r.URL.Query().Get("tenant"),
		UserID: r.URL.Query().Get("user"),
	}

	OK(w, map[string]bool{"enabled": s.gate.IsEnabled(r.Context(), name, actor)})
}

type overrideRequest struct {
	Tenant string `json:"tenant,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Value  string `json:"value"`
}

// setFlagOverride pins a flag for one tenant or one user.
func (s *Server) setFlagOverride(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if (req.Tenant == "") == (req.UserID == "") {
		JSONError(w, NewBadRequest("exactly one of tenant and user_id is required"))
		return
	}
	value := models.OverrideValue(req.Value)
	if value != models.OverrideEnabled && value != models.OverrideDisabled {
		JSONError(w, NewBadRequest("value must be enabled or disabled"))
		return
	}

	flag, err := s.storage.Flags().GetFlag(r.Context(), name)
	if err == storage.ErrNotFound {
		JSONError(w, NewNotFound("flag not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}

	override := &models.FeatureFlagOverride{
		ID:        uuid.New().String(),
		FlagID:    flag.ID,
		Tenant:    req.Tenant,
		UserID:    req.UserID,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.Flags().SetOverride(r.Context(), override); err != nil {
		s.log.Error().Err(err).Str("flag", name).Msg("override set failed")
		JSONError(w, ErrInternalServer)
		return
	}
	Created(w, override)
}

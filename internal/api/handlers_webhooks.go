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

type endpointRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types,omitempty"`
	Active     bool     `json:"active"`
}

func (s *Server) listWebhookEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.storage.Webhooks().ListActiveEndpoints(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, endpoints)
}

func (s *Server) createWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if req.URL == "" {
		JSONError(w, NewBadRequest("endpoint url is required"))
		return
	}

	now := time.Now().UTC()
	endpoint := &models.WebhookEndpoint{
		ID:         uuid.New().String(),
		Tenant:     chi.URLParam(r, "tenant"),
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Active:     req.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.storage.Webhooks().CreateEndpoint(r.Context(), endpoint); err != nil {
		s.log.Error().Err(err).Str("tenant", endpoint.Tenant).Msg("endpoint creation failed")
		JSONError(w, ErrInternalServer)
		return
	}
	Created(w, endpoint)
}

func (s *Server) getWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.storage.Webhooks().GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("endpoint not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, endpoint)
}

func (s *Server) updateWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.storage.Webhooks().GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("endpoint not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if req.URL != "" {
		endpoint.URL = req.URL
	}
	endpoint.EventTypes = req.EventTypes
	endpoint.Active = req.Active
	endpoint.UpdatedAt = time.Now().UTC()

	if err := s.storage.Webhooks().UpdateEndpoint(r.Context(), endpoint); err != nil {
		s.log.Error().Err(err).Str("endpoint_id", endpoint.ID).Msg("endpoint update failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, endpoint)
}

type fanoutRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// fanoutWebhooks delivers a payload to every matching tenant endpoint.
func (s *Server) fanoutWebhooks(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req fanoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if req.EventType == "" {
		JSONError(w, NewBadRequest("event_type is required"))
		return
	}

	deliveries, err := s.webhooks.Fanout(r.Context(), tenant, req.EventType, req.Payload)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("webhook fanout failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, deliveries)
}

func (s *Server) getDelivery(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.storage.Webhooks().GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("delivery not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, delivery)
}

// retryDelivery re-attempts one delivery immediately.
func (s *Server) retryDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	delivery, err := s.webhooks.Retry(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("delivery not found"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("delivery_id", id).Msg("delivery retry failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, delivery)
}

// sweepWebhooks runs one retry sweep pass on demand.
func (s *Server) sweepWebhooks(w http.ResponseWriter, r *http.Request) {
	res, err := s.webhooks.Sweep(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("webhook sweep failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, res)
}

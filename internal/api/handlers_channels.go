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

type channelRequest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Config  json.RawMessage `json:"config"`
	Enabled bool            `json:"enabled"`
}

func validChannelType(t models.ChannelType) bool {
	switch t {
	case models.ChannelEmail, models.ChannelChatWebhook, models.ChannelGenericWebhook:
		return true
	}
	return false
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.storage.Channels().ListEnabled(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, channels)
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if req.Name == "" {
		JSONError(w, NewBadRequest("channel name is required"))
		return
	}
	chType := models.ChannelType(req.Type)
	if !validChannelType(chType) {
		JSONError(w, NewBadRequest("invalid channel type: "+req.Type))
		return
	}

	now := time.Now().UTC()
	ch := &models.NotificationChannel{
		ID:        uuid.New().String(),
		Tenant:    chi.URLParam(r, "tenant"),
		Name:      req.Name,
		Type:      chType,
		Config:    string(req.Config),
		Enabled:   req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.storage.Channels().Create(r.Context(), ch)
	if errors.Is(err, storage.ErrDuplicate) {
		JSONError(w, NewConflict("a channel with that name already exists"))
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("tenant", ch.Tenant).Msg("channel creation failed")
		JSONError(w, ErrInternalServer)
		return
	}
	Created(w, ch)
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.storage.Channels().GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("channel not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, ch)
}

func (s *Server) updateChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.storage.Channels().GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("channel not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}

	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	if req.Name != "" {
		ch.Name = req.Name
	}
	if req.Type != "" {
		chType := models.ChannelType(req.Type)
		if !validChannelType(chType) {
			JSONError(w, NewBadRequest("invalid channel type: "+req.Type))
			return
		}
		ch.Type = chType
	}
	if len(req.Config) > 0 {
		ch.Config = string(req.Config)
	}
	ch.Enabled = req.Enabled
	ch.UpdatedAt = time.Now().UTC()

	if err := s.storage.Channels().Update(r.Context(), ch); err != nil {
		s.log.Error().Err(err).Str("channel_id", ch.ID).Msg("channel update failed")
		JSONError(w, ErrInternalServer)
		return
	}
	OK(w, ch)
}

func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	err := s.storage.Channels().Delete(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		JSONError(w, NewNotFound("channel not found"))
		return
	}
	if err != nil {
		JSONError(w, ErrInternalServer)
		return
	}
	NoContent(w)
}

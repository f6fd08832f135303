package notify

import (
	"context"
	"errors"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

// ErrNoArtifact signals that no evidence artifact is available for an
// event. Senders treat it as a soft condition and deliver without one.
var ErrNoArtifact = errors.New("no artifact available")

// Artifact is a generated evidence document attached to a notification.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ArtifactProvider produces evidence documents for alert events. Report
// generation lives outside this system, so the provider is injected;
// any failure degrades the notification to body-only, never blocks it.
type ArtifactProvider interface {
	EvidencePDF(ctx context.Context, event *models.AlertEvent) (*Artifact, error)
}

// NoArtifacts is the provider used when report generation is not wired.
type NoArtifacts struct{}

// EvidencePDF always returns ErrNoArtifact.
func (NoArtifacts) EvidencePDF(context.Context, *models.AlertEvent) (*Artifact, error) {
	return nil, ErrNoArtifact
}

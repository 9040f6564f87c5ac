package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openartifacts/registry/cmd/registry/models"
	"github.com/openartifacts/registry/common/logger"
	"github.com/openartifacts/registry/common/queue"
)

// EventTopic carries lifecycle broadcasts: creations, updates, status
// changes, uploads and deletions.
const EventTopic = "artifact-events"

// Event is one lifecycle notification.
type Event struct {
	Action     string    `json:"action"`
	ArtifactID string    `json:"artifact_id"`
	TypeName   string    `json:"type_name"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Owner      string    `json:"owner"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// Notifier publishes lifecycle events. A nil Notifier drops them.
type Notifier struct {
	queue queue.Queue
	log   *logger.Logger
}

// NewNotifier creates a notifier over the given queue.
func NewNotifier(q queue.Queue, log *logger.Logger) *Notifier {
	return &Notifier{queue: q, log: log}
}

// Notify publishes one event. Delivery problems are logged, never
// returned; notifications must not fail the operation they describe.
func (n *Notifier) Notify(ctx context.Context, action string, a *models.Artifact) {
	if n == nil || n.queue == nil {
		return
	}

	event := Event{
		Action:     action,
		ArtifactID: a.ID,
		TypeName:   a.TypeName,
		Name:       a.Name,
		Version:    a.Version.String(),
		Owner:      a.Owner,
		Status:     string(a.Status),
		At:         time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error("failed to encode event", "action", action, "error", err)
		return
	}
	if err := n.queue.Publish(ctx, EventTopic, a.ID, payload); err != nil {
		n.log.Error("failed to publish event", "action", action, "error", err)
	}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openflux/eventrouter/internal/domain"
)

// Endpoints carries the collaborator base URLs. Empty entries disable the
// corresponding notification.
type Endpoints struct {
	ActivityURL   string
	ReputationURL string
	WorkflowURL   string
	CaptionURL    string
}

// Hub translates router events into collaborator notifications and feeds
// them to the pool. It satisfies both the dispatcher's Notifier and the
// translation pipeline's CaptionSink.
type Hub struct {
	pool      *Pool
	endpoints Endpoints
	client    *http.Client
}

// NewHub constructs a Hub. client may be nil for a default.
func NewHub(pool *Pool, endpoints Endpoints, client *http.Client) *Hub {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Hub{pool: pool, endpoints: endpoints, client: client}
}

// CommandExecuted notifies the activity tracker, the reputation engine and
// the workflow evaluator that a command ran. Each delivery is independent;
// none blocks the caller.
func (h *Hub) CommandExecuted(ev domain.Event, communityID, command string) {
	payload := map[string]any{
		"platform":     ev.Platform,
		"user_id":      ev.UserID,
		"community_id": communityID,
		"command":      command,
		"occurred_at":  time.Now().UTC().Format(time.RFC3339),
	}
	h.post("activity", h.endpoints.ActivityURL, payload)
	h.post("reputation", h.endpoints.ReputationURL, payload)
	h.post("workflow", h.endpoints.WorkflowURL, map[string]any{
		"trigger":      "command_executed",
		"community_id": communityID,
		"command":      command,
		"user_id":      ev.UserID,
	})
}

// StreamEvent notifies the workflow evaluator about a platform stream
// event (raid, subscription and the like).
func (h *Hub) StreamEvent(ev domain.Event, communityID string) {
	h.post("workflow", h.endpoints.WorkflowURL, map[string]any{
		"trigger":      "stream_event",
		"community_id": communityID,
		"platform":     ev.Platform,
		"user_id":      ev.UserID,
		"message":      ev.Message,
	})
}

// ForwardCaption sends a translated caption to the overlay service.
func (h *Hub) ForwardCaption(communityID, text string) {
	h.post("caption", h.endpoints.CaptionURL, map[string]any{
		"community_id": communityID,
		"text":         text,
	})
}

func (h *Hub) post(name, url string, payload any) {
	if url == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.pool.Enqueue(Task{
		Name: name,
		Run: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := h.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("%s returned %d", name, resp.StatusCode)
			}
			return nil
		},
	})
}

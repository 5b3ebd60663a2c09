package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codereview/internal/config"
	"codereview/internal/domain"
	"codereview/internal/metrics"
	"codereview/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher polls the event log and posts matching events to one
// URL. The cursor lives in memory and starts at the newest event, so
// events written while the server was down are not replayed.
type webhookDispatcher struct {
	store    repo.Store
	hook     config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	filter   eventFilter
	cursor   int64
	hasStart bool
}

func newWebhookDispatcher(store repo.Store, hook config.WebhookConfig, logger *slog.Logger) *webhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &webhookDispatcher{
		store:  store,
		hook:   hook,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger.With("webhook", hook.URL),
		filter: newEventFilter(hook.Events),
	}
}

// StartWebhookDispatcher runs the dispatcher until ctx is done. It returns
// immediately when webhooks are disabled.
func StartWebhookDispatcher(ctx context.Context, store repo.Store, cfg *config.Config, logger *slog.Logger) {
	if cfg == nil || !cfg.Webhooks.Enabled || strings.TrimSpace(cfg.Webhooks.URL) == "" {
		return
	}
	d := newWebhookDispatcher(store, cfg.Webhooks, logger)
	go d.run(ctx)
}

func (d *webhookDispatcher) run(ctx context.Context) {
	interval := d.hook.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch delivers one batch. A failed delivery stops the batch so the
// event is retried on the next tick.
func (d *webhookDispatcher) dispatch(ctx context.Context) {
	if !d.hasStart {
		cur, err := d.store.LatestEventID(ctx)
		if err != nil {
			d.logger.Error("webhook: init cursor failed", "error", err)
			return
		}
		d.cursor = cur
		d.hasStart = true
	}
	events, err := d.store.EventsAfter(ctx, defaultWebhookBatch, d.cursor)
	if err != nil {
		d.logger.Error("webhook: fetch events failed", "error", err)
		return
	}
	for _, evt := range events {
		if !d.filter.match(evt.Type) {
			d.cursor = evt.ID
			continue
		}
		if err := d.postEvent(ctx, evt); err != nil {
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			d.logger.Warn("webhook: delivery failed", "event_id", evt.ID, "error", err)
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		d.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *webhookDispatcher) postEvent(ctx context.Context, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Codereview-Event", evt.Type)
	req.Header.Set("X-Codereview-Delivery", fmt.Sprintf("%d", evt.ID))
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pathfinder/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts notifications as JSON to configured endpoints. Outbound
// requests share one rate limiter.
type Webhook struct {
	hooks   []config.WebhookConfig
	filters []eventFilter
	client  *http.Client
	limiter *rate.Limiter
}

func NewWebhook(hooks []config.WebhookConfig, perSecond float64, burst int) *Webhook {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	w := &Webhook{
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		limiter: rate.NewLimiter(limit, burst),
	}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		w.hooks = append(w.hooks, hook)
		w.filters = append(w.filters, newEventFilter(hook.Events))
	}
	return w
}

// Len returns the number of active endpoints.
func (w *Webhook) Len() int { return len(w.hooks) }

func (w *Webhook) Dispatch(ctx context.Context, n Notification) error {
	var errs []error
	for i, hook := range w.hooks {
		if !w.filters[i].match(n.Event) {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := w.post(ctx, hook, n); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Webhook) post(ctx context.Context, hook config.WebhookConfig, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pathfinder-Event", n.Event)
	req.Header.Set("X-Pathfinder-Delivery", uuid.NewString())
	if n.ProjectID != "" {
		req.Header.Set("X-Pathfinder-Project", n.ProjectID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Pathfinder-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagestack/platform/pkg/event"
	"github.com/pagestack/platform/pkg/signature"
)

// Publisher delivers signed lifecycle events to one webhook endpoint.
// Delivery is fire-and-forget: the local mutation has already committed by the
// time Publish runs, so failures are logged and swallowed, never rolled back.
type Publisher struct {
	endpoint   string
	secret     string
	client     *http.Client
	logger     *slog.Logger
	deliveries *prometheus.CounterVec
}

// NewPublisher constructs a Publisher. An empty endpoint disables delivery.
func NewPublisher(endpoint, secret string, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagestack",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Outbound webhook delivery attempts by event and outcome",
	}, []string{"event", "outcome"})
	if err := prometheus.Register(deliveries); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			deliveries = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return &Publisher{
		endpoint:   endpoint,
		secret:     secret,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		deliveries: deliveries,
	}
}

// PublishUser emits a user lifecycle event.
func (p *Publisher) PublishUser(ctx context.Context, name string, user event.UserPayload, previous *event.UserPayload) {
	p.publish(ctx, event.Envelope{Event: name, User: &user, Previous: previous})
}

// PublishTeam emits a derived team event for downstream modules.
func (p *Publisher) PublishTeam(ctx context.Context, name string, team event.TeamPayload) {
	p.publish(ctx, event.Envelope{Event: name, Team: &team})
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) {
	if p == nil || p.endpoint == "" {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("event encode failed", "event", env.Event, "error", err)
		p.deliveries.WithLabelValues(env.Event, "error").Inc()
		return
	}

	// The caller's request may already be done; a client disconnect is not a
	// rollback signal once the local write committed.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		p.logger.Error("event request build failed", "event", env.Event, "error", err)
		p.deliveries.WithLabelValues(env.Event, "error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign(payload, p.secret))

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("event delivery failed", "event", env.Event, "endpoint", p.endpoint, "error", err)
		p.deliveries.WithLabelValues(env.Event, "error").Inc()
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("event delivery rejected", "event", env.Event, "status", resp.Status)
		p.deliveries.WithLabelValues(env.Event, "rejected").Inc()
		return
	}
	p.deliveries.WithLabelValues(env.Event, "delivered").Inc()
	p.logger.Info("event delivered", "event", env.Event)
}

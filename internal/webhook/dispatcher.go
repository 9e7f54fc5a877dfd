package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/events"
	"wamux/internal/metrics"
	"wamux/internal/models"
	"wamux/internal/privacy"
	"wamux/internal/tracing"
	"wamux/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	HeaderEvent      = "X-Webhook-Event"
	HeaderDelivery   = "X-Webhook-Delivery"
	HeaderSignature  = "X-Webhook-Signature"
	signaturePrefix  = "sha256="
	maxResponseBytes = 4096
)

// Envelope is the JSON body of every delivery.
type Envelope struct {
	Event     string      `json:"event"`
	SessionID string      `json:"sessionId"`
	Data      interface{} `json:"data"`
}

// Dispatcher manages subscriptions and performs best-effort deliveries.
type Dispatcher struct {
	store     Store
	client    *http.Client
	timeout   time.Duration
	secret    string
	userAgent string
	logger    logrus.FieldLogger

	// mu serializes table read-modify-write cycles within this process.
	mu       sync.Mutex
	inflight sync.WaitGroup
}

// NewDispatcher builds a dispatcher over store using the webhook config.
func NewDispatcher(store Store, cfg models.WebhooksConfig, logger logrus.FieldLogger) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultWebhookTimeoutSec) * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = constants.DefaultWebhookUserAgent
	}
	return &Dispatcher{
		store:     store,
		client:    &http.Client{},
		timeout:   timeout,
		secret:    cfg.Secret,
		userAgent: userAgent,
		logger:    logger.WithField(constants.LogFieldComponent, "webhook"),
	}
}

// Register adds url for the session, or replaces the event set of an
// existing subscription with the same url.
func (d *Dispatcher) Register(ctx context.Context, sessionID, url string, kinds []string) ([]models.WebhookSubscription, error) {
	if err := validation.ValidateSessionName(sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateWebhookURL(url); err != nil {
		return nil, err
	}
	normalized, err := normalizeKinds(kinds)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	table, err := d.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	subs := table[sessionID]
	replaced := false
	for i := range subs {
		if subs[i].URL == url {
			subs[i].Events = normalized
			replaced = true
			break
		}
	}
	if !replaced {
		subs = append(subs, models.WebhookSubscription{URL: url, Events: normalized})
	}
	table[sessionID] = subs

	if err := d.store.Save(ctx, table); err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		constants.LogFieldSession: sessionID,
		constants.LogFieldURL:     privacy.MaskURL(url),
		"events":                  normalized,
		"replaced":                replaced,
	}).Info("Webhook registered")

	return table.Clone()[sessionID], nil
}

// Unregister removes url from the session. Removing an unknown url is a no-op.
func (d *Dispatcher) Unregister(ctx context.Context, sessionID, url string) ([]models.WebhookSubscription, error) {
	if url == "" {
		return nil, apperrors.NewInvalidInputError("url", "webhook URL cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	table, err := d.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	subs, ok := table[sessionID]
	if !ok {
		return []models.WebhookSubscription{}, nil
	}

	kept := subs[:0]
	for _, s := range subs {
		if s.URL != url {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(subs) {
		return table.Clone()[sessionID], nil
	}
	if len(kept) == 0 {
		delete(table, sessionID)
	} else {
		table[sessionID] = kept
	}

	if err := d.store.Save(ctx, table); err != nil {
		return nil, err
	}

	d.logger.WithFields(logrus.Fields{
		constants.LogFieldSession: sessionID,
		constants.LogFieldURL:     privacy.MaskURL(url),
	}).Info("Webhook unregistered")

	if len(kept) == 0 {
		return []models.WebhookSubscription{}, nil
	}
	return table.Clone()[sessionID], nil
}

// List returns the session's subscriptions in registration order.
func (d *Dispatcher) List(ctx context.Context, sessionID string) ([]models.WebhookSubscription, error) {
	table, err := d.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	subs := table.Clone()[sessionID]
	if subs == nil {
		subs = []models.WebhookSubscription{}
	}
	return subs, nil
}

// Dispatch schedules one delivery per subscription of the session that
// accepts kind and returns how many were scheduled. It never blocks on
// delivery and never reports delivery failures.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, kind string, data interface{}) int {
	table, err := d.store.Load(ctx)
	if err != nil {
		apperrors.LogError(d.logger, err, "Failed to load webhook table for dispatch", logrus.Fields{
			constants.LogFieldSession: sessionID,
			constants.LogFieldEvent:   kind,
		})
		return 0
	}

	var targets []string
	for _, s := range table[sessionID] {
		if s.Accepts(kind) {
			targets = append(targets, s.URL)
		}
	}
	if len(targets) == 0 {
		return 0
	}

	body, err := json.Marshal(Envelope{Event: kind, SessionID: sessionID, Data: data})
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			constants.LogFieldSession: sessionID,
			constants.LogFieldEvent:   kind,
		}).Error("Failed to encode webhook payload")
		return 0
	}

	deliveryCtx := context.WithoutCancel(ctx)
	for _, url := range targets {
		d.inflight.Add(1)
		go func(url string) {
			defer d.inflight.Done()
			d.deliver(deliveryCtx, sessionID, kind, url, body)
		}(url)
	}
	return len(targets)
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) deliver(parent context.Context, sessionID, kind, url string, body []byte) {
	deliveryID := uuid.NewString()
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	ctx, span := tracing.StartSessionSpan(ctx, "webhook.deliver", sessionID,
		attribute.String("webhook.event", kind),
		attribute.String("webhook.delivery_id", deliveryID),
	)
	defer span.End()

	logger := d.logger.WithFields(logrus.Fields{
		constants.LogFieldSession:    sessionID,
		constants.LogFieldEvent:      kind,
		constants.LogFieldURL:        privacy.MaskURL(url),
		constants.LogFieldDeliveryID: deliveryID,
	})

	start := time.Now()
	status, err := d.post(ctx, url, kind, deliveryID, body)
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = "failure"
		tracing.RecordError(ctx, err)
		apperrors.LogWarn(logger, err, "Webhook delivery failed", logrus.Fields{
			constants.LogFieldDuration: elapsed.Milliseconds(),
		})
	} else {
		span.SetStatus(codes.Ok, "")
		logger.WithFields(logrus.Fields{
			constants.LogFieldStatusCode: status,
			constants.LogFieldDuration: elapsed.Milliseconds(),
		}).Debug("Webhook delivered")
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	labels := map[string]string{"result": result}
	metrics.IncrementCounter(metrics.WebhookDeliveriesTotal, labels, "Webhook delivery attempts")
	metrics.RecordTimer(metrics.WebhookDeliveryDuration, elapsed, labels, "Webhook delivery duration")
}

func (d *Dispatcher) post(ctx context.Context, url, kind, deliveryID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, apperrors.NewDeliveryError(url, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(HeaderEvent, kind)
	req.Header.Set(HeaderDelivery, deliveryID)
	if d.secret != "" {
		req.Header.Set(HeaderSignature, Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, apperrors.NewDeliveryError(url, 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, apperrors.NewDeliveryError(url, resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp.StatusCode, nil
}

// Sign returns the X-Webhook-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func normalizeKinds(kinds []string) ([]string, error) {
	if len(kinds) == 0 {
		return nil, apperrors.NewInvalidInputError("events", "at least one event is required")
	}
	seen := make(map[string]bool, len(kinds))
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		kind, ok := events.ParseKind(k)
		if !ok {
			return nil, apperrors.NewInvalidInputError("events", fmt.Sprintf("unknown event %q", k))
		}
		if !seen[string(kind)] {
			seen[string(kind)] = true
			out = append(out, string(kind))
		}
	}
	return out, nil
}

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"lendcore/core"
	"lendcore/core/events"
)

// EventType represents the logical webhook topic.
type EventType string

const (
	// EventLiquidation is emitted when a liquidator seizes collateral from an
	// unhealthy borrower.
	EventLiquidation EventType = "lending.liquidation"
	// EventReserveListed is emitted when governance activates a new reserve.
	EventReserveListed EventType = "lending.reserve.listed"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// LiquidationAlert describes the webhook body for liquidation events.
type LiquidationAlert struct {
	Type            EventType `json:"type"`
	Borrower        string    `json:"borrower"`
	Liquidator      string    `json:"liquidator"`
	DebtAsset       string    `json:"debtAsset"`
	CollateralAsset string    `json:"collateralAsset"`
	Repaid          string    `json:"repaid"`
	Seized          string    `json:"seized"`
	OccurredAt      time.Time `json:"occurredAt"`
	DeliveryID      string    `json:"deliveryId"`
}

// ReserveListedAlert describes the webhook body for reserve activations.
type ReserveListedAlert struct {
	Type                 EventType `json:"type"`
	Asset                string    `json:"asset"`
	ReceiptToken         string    `json:"receiptToken"`
	LTV                  string    `json:"ltv"`
	LiquidationThreshold string    `json:"liquidationThreshold"`
	OccurredAt           time.Time `json:"occurredAt"`
	DeliveryID           string    `json:"deliveryId"`
}

// Dispatcher orchestrates webhook deliveries with retry and exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan delivery
	wg      sync.WaitGroup
	metrics *deliveryMetrics
}

type delivery struct {
	eventType EventType
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, 32),
		metrics:     dispatchMetrics(),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops the dispatcher and waits for inflight deliveries to complete.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// EnqueueLiquidation sends a liquidation alert asynchronously.
func (d *Dispatcher) EnqueueLiquidation(payload LiquidationAlert) error {
	payload.Type = EventLiquidation
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("liq-%s-%d", payload.Borrower, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// EnqueueReserveListed sends a reserve activation alert asynchronously.
func (d *Dispatcher) EnqueueReserveListed(payload ReserveListedAlert) error {
	payload.Type = EventReserveListed
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	if payload.DeliveryID == "" {
		payload.DeliveryID = fmt.Sprintf("reserve-%s-%d", payload.Asset, time.Now().UnixNano())
	}
	return d.enqueue(payload.Type, payload)
}

// Forward drains a ledger event stream and enqueues alerts for the topics
// integrators subscribe to. It returns when the channel closes or the
// dispatcher shuts down.
func (d *Dispatcher) Forward(stream <-chan core.StreamEvent) {
	for entry := range stream {
		if entry.Event == nil {
			continue
		}
		attrs := entry.Event.Attributes
		occurred := time.Unix(entry.Timestamp, 0).UTC()
		var err error
		switch entry.Event.Type {
		case events.TypeLiquidated:
			err = d.EnqueueLiquidation(LiquidationAlert{
				Borrower:        attrs["borrower"],
				Liquidator:      attrs["liquidator"],
				DebtAsset:       attrs["debtAsset"],
				CollateralAsset: attrs["collateralAsset"],
				Repaid:          attrs["repaid"],
				Seized:          attrs["seized"],
				OccurredAt:      occurred,
				DeliveryID:      entry.ID,
			})
		case events.TypeReserveInitialized:
			err = d.EnqueueReserveListed(ReserveListedAlert{
				Asset:                attrs["asset"],
				ReceiptToken:         attrs["receiptToken"],
				LTV:                  attrs["ltv"],
				LiquidationThreshold: attrs["liquidationThreshold"],
				OccurredAt:           occurred,
				DeliveryID:           entry.ID,
			})
		}
		if err != nil {
			return
		}
	}
}

func (d *Dispatcher) enqueue(eventType EventType, body interface{}) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case d.queue <- delivery{eventType: eventType, body: data}:
		return nil
	case <-d.ctx.Done():
		return errors.New("webhook: dispatcher closed")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			d.metrics.recordDelivered(job.eventType)
			return
		}
		if attempt >= d.maxAttempts {
			d.metrics.recordFailed(job.eventType)
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Lend-Event", string(job.eventType))
	req.Header.Set("X-Lend-Signature", d.sign(job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	return "sha256=" + hex.EncodeToString(sum)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}

var (
	metricsOnce           sync.Once
	sharedDeliveryMetrics *deliveryMetrics
)

type deliveryMetrics struct {
	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

func dispatchMetrics() *deliveryMetrics {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("lendcore/integrations/webhooks")
		delivered, deliveredErr := meter.Int64Counter("lend.webhooks.delivered")
		failed, failedErr := meter.Int64Counter("lend.webhooks.failed")
		if deliveredErr != nil || failedErr != nil {
			fallback := noop.NewMeterProvider().Meter("lendcore/integrations/webhooks")
			delivered, _ = fallback.Int64Counter("lend.webhooks.delivered")
			failed, _ = fallback.Int64Counter("lend.webhooks.failed")
		}
		sharedDeliveryMetrics = &deliveryMetrics{delivered: delivered, failed: failed}
	})
	return sharedDeliveryMetrics
}

func (m *deliveryMetrics) recordDelivered(topic EventType) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", string(topic))))
}

func (m *deliveryMetrics) recordFailed(topic EventType) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", string(topic))))
}

// Package delivery performs single webhook delivery attempts: it builds
// the signed envelope, posts it, classifies the outcome, and records the
// result on the delivery, handing failures to the backoff policy.
package delivery

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

	"go.opentelemetry.io/otel/attribute"

	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/model"
	"github.com/tidehook/tidehook/internal/signature"
	"github.com/tidehook/tidehook/internal/store"
	"github.com/tidehook/tidehook/internal/tracing"
)

const (
	// SignatureHeader carries the t=,v1= signature over the envelope body.
	SignatureHeader = "X-Tidehook-Signature"
	// EventHeader carries the event type of the delivery.
	EventHeader = "X-Tidehook-Event"
	// DeliveryHeader carries the delivery id; receivers dedupe on it.
	DeliveryHeader = "X-Tidehook-Delivery"

	userAgent = "tidehook/1.0"

	// maxResponseBytes bounds the stored response body.
	maxResponseBytes = 1000

	// requestTimeout bounds every attempt so a wedged destination never
	// holds a worker indefinitely.
	requestTimeout = 30 * time.Second
)

// Configuration errors surfaced synchronously to callers. They are never
// retried and must not increment the attempt counter.
var (
	ErrEndpointInactive = errors.New("endpoint is not active")
	ErrNotSubscribed    = errors.New("endpoint is not subscribed to event type")
)

// Dispatcher performs one HTTP attempt for a delivery. It is explicitly
// constructed and owns its HTTP client and store handle; whichever process
// needs it receives the instance, there is no ambient global.
type Dispatcher struct {
	client *http.Client
	store  store.Store
	policy Policy
	logger *logging.Logger
}

// NewDispatcher builds a dispatcher around the given store and backoff
// policy. The HTTP client never follows client-level retries and carries
// the fixed attempt timeout.
func NewDispatcher(st store.Store, policy Policy) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: requestTimeout},
		store:  st,
		policy: policy,
		logger: logging.New("tidehook-dispatcher"),
	}
}

// Policy exposes the dispatcher's backoff policy, mainly so the sweeper
// shares the same attempt ceiling.
func (d *Dispatcher) Policy() Policy { return d.policy }

// Attempt performs exactly one delivery attempt. Preconditions (endpoint
// active and subscribed) fail with a validation error before any network
// I/O and without touching the attempt counter. Delivery failures are
// recorded on the delivery and handed to the backoff policy; they are not
// returned as errors.
func (d *Dispatcher) Attempt(ctx context.Context, del *model.Delivery, ep *model.Endpoint) (*model.Delivery, error) {
	if !ep.Active {
		return nil, fmt.Errorf("endpoint %s: %w", ep.ID, ErrEndpointInactive)
	}
	if !ep.Subscribed(del.EventType) {
		return nil, fmt.Errorf("endpoint %s, event %s: %w", ep.ID, del.EventType, ErrNotSubscribed)
	}

	ctx, span := tracing.StartSpan(ctx, "dispatcher.attempt",
		attribute.String("delivery_id", del.ID),
		attribute.String("endpoint_id", ep.ID),
		attribute.String("event_type", del.EventType),
		attribute.Int("attempt", del.Attempts+1),
	)
	defer span.End()

	now := time.Now().UTC()
	body, err := json.Marshal(model.NewEnvelope(del, now))
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, signature.SignAt(body, ep.Secret, now))
	req.Header.Set(EventHeader, del.EventType)
	req.Header.Set(DeliveryHeader, del.ID)

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := time.Now()
	resp, doErr := d.client.Do(req)
	latency := time.Since(start)

	// All three outcome paths below increment attempts by exactly one.
	del.Attempts++

	switch {
	case doErr != nil:
		// No response observed: keep the previously recorded status code
		// rather than fabricating one, store the sanitized error text.
		del.ResponseBody = truncate(sanitizeError(doErr.Error()), maxResponseBytes)
		d.recordFailure(ctx, del, classifyReason(doErr, 0), latency)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		del.ResponseBody = readBody(resp)
		status := resp.StatusCode
		del.ResponseStatus = &status
		delivered := time.Now().UTC()
		del.DeliveredAt = &delivered
		del.NextRetryAt = nil
		metrics.RecordDelivery("delivered", latency)
		d.logger.WithContext(ctx).WithDelivery(del.ID).WithEndpoint(ep.ID).WithField("attempt", del.Attempts).Info("delivered")
	default:
		del.ResponseBody = readBody(resp)
		status := resp.StatusCode
		del.ResponseStatus = &status
		d.recordFailure(ctx, del, classifyReason(nil, status), latency)
	}

	// Overlapping triggers (intake, async task, sweeper) can race on the
	// same delivery; the conditional write arbitrates, and a losing copy
	// discards its result instead of clobbering the winner's.
	if err := d.store.RecordAttempt(ctx, del); err != nil {
		if errors.Is(err, store.ErrStaleDelivery) {
			d.logger.WithContext(ctx).WithDelivery(del.ID).Info("concurrent attempt recorded first, discarding result")
		}
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("record attempt %s: %w", del.ID, err)
	}
	span.SetAttributes(attribute.Int64("http.latency_ms", latency.Milliseconds()))
	return del, nil
}

// recordFailure hands a failed attempt to the backoff policy: either a
// retry is scheduled or the delivery goes terminal with no schedule.
func (d *Dispatcher) recordFailure(ctx context.Context, del *model.Delivery, reason string, latency time.Duration) {
	if delay, ok := d.policy.Next(del.Attempts); ok {
		next := time.Now().UTC().Add(delay)
		del.NextRetryAt = &next
		metrics.RecordRetry(reason)
		d.logger.WithContext(ctx).WithDelivery(del.ID).WithFields(map[string]any{
			"attempt": del.Attempts,
			"reason":  reason,
			"delay":   delay.String(),
		}).Info("attempt failed, retry scheduled")
	} else {
		del.NextRetryAt = nil
		metrics.RecordExhausted(reason)
		d.logger.WithContext(ctx).WithDelivery(del.ID).WithFields(map[string]any{
			"attempt": del.Attempts,
			"reason":  reason,
		}).Warn("attempt failed, retries exhausted")
	}
	metrics.RecordDelivery("failed", latency)
	tracing.AddSpanEvent(ctx, "delivery.failed", attribute.String("reason", reason))
}

// readBody drains and truncates a response body.
func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// classifyReason buckets a failure for metrics.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}

// Package intake is the engine's entry point for new dispatch requests
// and operator-triggered retries.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tidehook/tidehook/internal/delivery"
	"github.com/tidehook/tidehook/internal/model"
	"github.com/tidehook/tidehook/internal/queue"
	"github.com/tidehook/tidehook/internal/store"
	"github.com/tidehook/tidehook/internal/tracing"
)

// ErrAlreadyDelivered rejects a manual retry of a delivery that has a
// recorded 2xx response.
var ErrAlreadyDelivered = errors.New("delivery already succeeded")

// Service creates delivery records and triggers their first attempt.
type Service struct {
	store      store.Store
	dispatcher *delivery.Dispatcher
	queue      queue.Queue
}

// New builds the intake service. queue may be nil when the caller only
// uses the synchronous path.
func New(st store.Store, d *delivery.Dispatcher, q queue.Queue) *Service {
	return &Service{store: st, dispatcher: d, queue: q}
}

// Dispatch creates a delivery for the endpoint and performs the first
// attempt synchronously, so callers observe the outcome of attempt 1
// without waiting for the sweeper. Configuration errors (unknown or
// inactive endpoint, unsubscribed event type) are returned before any
// record is created.
func (s *Service) Dispatch(ctx context.Context, endpointID, eventType string, payload json.RawMessage) (*model.Delivery, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.dispatch",
		attribute.String("endpoint_id", endpointID),
		attribute.String("event_type", eventType),
	)
	defer span.End()

	ep, del, err := s.prepare(ctx, endpointID, eventType, payload)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	return s.dispatcher.Attempt(ctx, del, ep)
}

// DispatchAsync creates the delivery record and hands the first attempt
// to the task queue, for callers that must not block on the subscriber's
// response time. The returned delivery still shows attempts=0.
func (s *Service) DispatchAsync(ctx context.Context, endpointID, eventType string, payload json.RawMessage) (*model.Delivery, error) {
	if s.queue == nil {
		return nil, errors.New("no task queue configured")
	}
	ep, del, err := s.prepare(ctx, endpointID, eventType, payload)
	if err != nil {
		return nil, err
	}
	task := queue.Task{
		EndpointID:   ep.ID,
		DeliveryID:   del.ID,
		TraceHeaders: tracing.PropagateTraceToTask(ctx),
	}
	if err := s.queue.Submit(ctx, task); err != nil {
		return nil, fmt.Errorf("submit dispatch task: %w", err)
	}
	return del, nil
}

// Retry performs one out-of-band attempt for an existing delivery,
// bypassing the backoff schedule. Already-delivered records are rejected
// with a validation error and no HTTP call is made.
func (s *Service) Retry(ctx context.Context, deliveryID string) (*model.Delivery, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.retry",
		attribute.String("delivery_id", deliveryID),
	)
	defer span.End()

	del, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	if del.Delivered() {
		return nil, fmt.Errorf("delivery %s: %w", deliveryID, ErrAlreadyDelivered)
	}
	ep, err := s.store.GetEndpoint(ctx, del.EndpointID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	return s.dispatcher.Attempt(ctx, del, ep)
}

// prepare validates the endpoint preconditions and creates the pending
// delivery record. Precondition failures leave no record behind.
func (s *Service) prepare(ctx context.Context, endpointID, eventType string, payload json.RawMessage) (*model.Endpoint, *model.Delivery, error) {
	ep, err := s.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, nil, err
	}
	if !ep.Active {
		return nil, nil, fmt.Errorf("endpoint %s: %w", ep.ID, delivery.ErrEndpointInactive)
	}
	if !ep.Subscribed(eventType) {
		return nil, nil, fmt.Errorf("endpoint %s, event %s: %w", ep.ID, eventType, delivery.ErrNotSubscribed)
	}

	del := &model.Delivery{
		ID:         uuid.NewString(),
		EndpointID: ep.ID,
		EventType:  eventType,
		Payload:    payload,
	}
	if err := s.store.CreateDelivery(ctx, del); err != nil {
		return nil, nil, fmt.Errorf("create delivery: %w", err)
	}
	return ep, del, nil
}

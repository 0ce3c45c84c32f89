// Package model holds the engine's persisted record types and the wire
// envelope posted to subscriber endpoints.
package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Endpoint is a tenant-registered destination URL subscribed to zero or
// more event types. The URL has passed destination validation at create
// and update time, so the dispatcher can trust it.
type Endpoint struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	// Secret is the HMAC signing secret. Never serialized; returned to
	// the caller only at creation and rotation.
	Secret     string    `json:"-"`
	EventTypes []string  `json:"event_types"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Subscribed reports whether the endpoint should receive eventType. An
// empty subscription set means all events.
func (e *Endpoint) Subscribed(eventType string) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	return slices.Contains(e.EventTypes, eventType)
}

// Delivery is one logical webhook event's delivery lifecycle, potentially
// spanning several attempts. A delivery is in exactly one of four states:
//
//	pending     DeliveredAt == nil, NextRetryAt == nil, attempts < max
//	scheduled   DeliveredAt == nil, NextRetryAt != nil
//	delivered   DeliveredAt != nil, NextRetryAt == nil
//	exhausted   DeliveredAt == nil, NextRetryAt == nil, attempts >= max
//
// DeliveredAt and a non-nil NextRetryAt are mutually exclusive.
type Delivery struct {
	ID         string          `json:"id"`
	EndpointID string          `json:"endpoint_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	// ResponseBody is the last HTTP response body, truncated, or a
	// sanitized transport error message when no response was observed.
	ResponseBody string `json:"response_body,omitempty"`
	// ResponseStatus is the last observed HTTP status code. Nil until a
	// response has been observed; transport errors do not fabricate one.
	ResponseStatus *int       `json:"response_status,omitempty"`
	Attempts       int        `json:"attempts"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Delivered reports whether a 2xx response has been recorded.
func (d *Delivery) Delivered() bool { return d.DeliveredAt != nil }

// Exhausted reports whether the delivery ran out of attempts without
// success. Exhaustion is a terminal record state, not an error.
func (d *Delivery) Exhausted(maxAttempts int) bool {
	return d.DeliveredAt == nil && d.NextRetryAt == nil && d.Attempts >= maxAttempts
}

// Envelope is the canonical JSON body posted to a subscriber.
type Envelope struct {
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data"`
	Timestamp  string          `json:"timestamp"` // ISO-8601
	DeliveryID string          `json:"delivery_id"`
}

// NewEnvelope builds the wire body for one attempt of a delivery.
func NewEnvelope(d *Delivery, at time.Time) Envelope {
	return Envelope{
		Event:      d.EventType,
		Data:       d.Payload,
		Timestamp:  at.UTC().Format(time.RFC3339),
		DeliveryID: d.ID,
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidehook/tidehook/internal/model"
)

// Memory is an in-process Store used by tests and dry runs. All records
// are copied on the way in and out so callers never share memory with the
// store's internal state.
type Memory struct {
	mu         sync.Mutex
	endpoints  map[string]model.Endpoint
	deliveries map[string]model.Delivery
	sweepMu    sync.Mutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		endpoints:  make(map[string]model.Endpoint),
		deliveries: make(map[string]model.Delivery),
	}
}

func (m *Memory) CreateEndpoint(_ context.Context, ep *model.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = now
	}
	ep.UpdatedAt = now
	m.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (m *Memory) GetEndpoint(_ context.Context, id string) (*model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneEndpoint(&ep)
	return &cp, nil
}

func (m *Memory) UpdateEndpoint(_ context.Context, ep *model.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[ep.ID]; !ok {
		return ErrNotFound
	}
	m.endpoints[ep.ID] = cloneEndpoint(ep)
	return nil
}

func (m *Memory) ListEndpoints(_ context.Context, orgID string) ([]*model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Endpoint
	for _, ep := range m.endpoints {
		if orgID != "" && ep.OrgID != orgID {
			continue
		}
		cp := cloneEndpoint(&ep)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateDelivery(_ context.Context, d *model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (m *Memory) GetDelivery(_ context.Context, id string) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneDelivery(&d)
	return &cp, nil
}

// RecordAttempt mirrors the conditional SQL write: the stored record must
// still be undelivered and exactly one attempt behind d.
func (m *Memory) RecordAttempt(_ context.Context, d *model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.DeliveredAt != nil || cur.Attempts != d.Attempts-1 {
		return ErrStaleDelivery
	}
	m.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (m *Memory) UpdateDelivery(_ context.Context, d *model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	// Administrative edits never revoke a recorded success.
	if cur.DeliveredAt != nil && d.DeliveredAt == nil {
		return ErrStaleDelivery
	}
	m.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (m *Memory) ListDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Delivery
	for _, d := range m.deliveries {
		if d.DeliveredAt != nil || d.Attempts >= maxAttempts {
			continue
		}
		if d.NextRetryAt != nil && d.NextRetryAt.After(now) {
			continue
		}
		cp := cloneDelivery(&d)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListDeliveries(_ context.Context, endpointID string, limit int) ([]*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Delivery
	for _, d := range m.deliveries {
		if d.EndpointID != endpointID {
			continue
		}
		cp := cloneDelivery(&d)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AcquireSweepLock serializes sweeps within the process. TryLock mirrors
// the non-blocking semantics of the Postgres advisory lock.
func (m *Memory) AcquireSweepLock(_ context.Context) (func(), bool, error) {
	if !m.sweepMu.TryLock() {
		return nil, false, nil
	}
	return m.sweepMu.Unlock, true, nil
}

func cloneEndpoint(ep *model.Endpoint) model.Endpoint {
	cp := *ep
	cp.EventTypes = append([]string(nil), ep.EventTypes...)
	return cp
}

func cloneDelivery(d *model.Delivery) model.Delivery {
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	if d.ResponseStatus != nil {
		v := *d.ResponseStatus
		cp.ResponseStatus = &v
	}
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		cp.NextRetryAt = &t
	}
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		cp.DeliveredAt = &t
	}
	return cp
}

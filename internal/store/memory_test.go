package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidehook/tidehook/internal/model"
)

func TestMemoryEndpointCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ep := &model.Endpoint{ID: "ep-1", OrgID: "org-1", URL: "https://example.com/hook", Secret: "s", Active: true}
	if err := m.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEndpoint() error: %v", err)
	}
	if ep.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on create")
	}

	got, err := m.GetEndpoint(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEndpoint() error: %v", err)
	}
	if got.URL != ep.URL || !got.Active {
		t.Errorf("GetEndpoint() = %+v, want stored endpoint", got)
	}

	// The store hands out copies; mutating a result must not leak back.
	got.Active = false
	again, err := m.GetEndpoint(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEndpoint() error: %v", err)
	}
	if !again.Active {
		t.Error("mutation of a returned endpoint leaked into the store")
	}

	got.Active = false
	got.Description = "paused"
	if err := m.UpdateEndpoint(ctx, got); err != nil {
		t.Fatalf("UpdateEndpoint() error: %v", err)
	}
	updated, err := m.GetEndpoint(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetEndpoint() error: %v", err)
	}
	if updated.Active || updated.Description != "paused" {
		t.Errorf("UpdateEndpoint() not applied: %+v", updated)
	}

	if _, err := m.GetEndpoint(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEndpoint(missing) error = %v, want ErrNotFound", err)
	}
	if err := m.UpdateEndpoint(ctx, &model.Endpoint{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEndpoint(missing) error = %v, want ErrNotFound", err)
	}

	other := &model.Endpoint{ID: "ep-2", OrgID: "org-2", URL: "https://other.example.com", Secret: "s"}
	if err := m.CreateEndpoint(ctx, other); err != nil {
		t.Fatalf("CreateEndpoint() error: %v", err)
	}
	list, err := m.ListEndpoints(ctx, "org-1")
	if err != nil {
		t.Fatalf("ListEndpoints() error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "ep-1" {
		t.Errorf("ListEndpoints(org-1) = %d endpoints, want only ep-1", len(list))
	}
}

func TestMemoryListDue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	deliveries := []*model.Delivery{
		{ID: "pending", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`)},
		{ID: "due", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, NextRetryAt: &past},
		{ID: "not-yet", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, NextRetryAt: &future},
		{ID: "done", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, DeliveredAt: &past},
		{ID: "spent", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 3},
	}
	for _, d := range deliveries {
		if err := m.CreateDelivery(ctx, d); err != nil {
			t.Fatalf("CreateDelivery(%s) error: %v", d.ID, err)
		}
	}

	due, err := m.ListDue(ctx, now, 3, 100)
	if err != nil {
		t.Fatalf("ListDue() error: %v", err)
	}
	got := map[string]bool{}
	for _, d := range due {
		got[d.ID] = true
	}
	if len(due) != 2 || !got["pending"] || !got["due"] {
		t.Errorf("ListDue() = %v, want exactly pending and due", got)
	}

	limited, err := m.ListDue(ctx, now, 3, 1)
	if err != nil {
		t.Fatalf("ListDue() error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListDue(limit=1) = %d deliveries, want 1", len(limited))
	}
}

func TestMemoryDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	del := &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`)}
	if err := m.CreateDelivery(ctx, del); err != nil {
		t.Fatalf("CreateDelivery() error: %v", err)
	}

	status := 500
	next := time.Now().UTC().Add(time.Minute)
	del.Attempts = 1
	del.ResponseStatus = &status
	del.ResponseBody = "boom"
	del.NextRetryAt = &next
	if err := m.UpdateDelivery(ctx, del); err != nil {
		t.Fatalf("UpdateDelivery() error: %v", err)
	}

	got, err := m.GetDelivery(ctx, "del-1")
	if err != nil {
		t.Fatalf("GetDelivery() error: %v", err)
	}
	if got.Attempts != 1 || got.ResponseStatus == nil || *got.ResponseStatus != 500 || got.NextRetryAt == nil {
		t.Errorf("GetDelivery() = %+v, want updated bookkeeping", got)
	}

	if _, err := m.GetDelivery(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDelivery(missing) error = %v, want ErrNotFound", err)
	}
	if err := m.UpdateDelivery(ctx, &model.Delivery{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDelivery(missing) error = %v, want ErrNotFound", err)
	}

	list, err := m.ListDeliveries(ctx, "ep-1", 0)
	if err != nil {
		t.Fatalf("ListDeliveries() error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "del-1" {
		t.Errorf("ListDeliveries() = %d records, want del-1 only", len(list))
	}
}

func TestMemoryRecordAttempt(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	next := now.Add(time.Minute)
	status := 200

	t.Run("records a fresh attempt", func(t *testing.T) {
		m := NewMemory()
		if err := m.CreateDelivery(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("CreateDelivery() error: %v", err)
		}
		if err := m.RecordAttempt(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, ResponseStatus: &status, DeliveredAt: &now}); err != nil {
			t.Fatalf("RecordAttempt() error: %v", err)
		}
		got, err := m.GetDelivery(ctx, "del-1")
		if err != nil {
			t.Fatalf("GetDelivery() error: %v", err)
		}
		if got.Attempts != 1 || got.DeliveredAt == nil {
			t.Errorf("RecordAttempt() stored %+v, want attempts 1 and delivered", got)
		}
	})

	t.Run("rejects an already-delivered record", func(t *testing.T) {
		m := NewMemory()
		if err := m.CreateDelivery(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("CreateDelivery() error: %v", err)
		}
		if err := m.RecordAttempt(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, ResponseStatus: &status, DeliveredAt: &now}); err != nil {
			t.Fatalf("RecordAttempt() error: %v", err)
		}
		fail := 500
		err := m.RecordAttempt(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, ResponseStatus: &fail, NextRetryAt: &next})
		if !errors.Is(err, ErrStaleDelivery) {
			t.Fatalf("RecordAttempt() on delivered record error = %v, want ErrStaleDelivery", err)
		}
		got, err := m.GetDelivery(ctx, "del-1")
		if err != nil {
			t.Fatalf("GetDelivery() error: %v", err)
		}
		if got.DeliveredAt == nil || got.ResponseStatus == nil || *got.ResponseStatus != 200 {
			t.Errorf("stale write altered the record: %+v", got)
		}
	})

	t.Run("rejects a lost increment", func(t *testing.T) {
		m := NewMemory()
		if err := m.CreateDelivery(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("CreateDelivery() error: %v", err)
		}
		fail := 500
		if err := m.RecordAttempt(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, ResponseStatus: &fail, NextRetryAt: &next}); err != nil {
			t.Fatalf("RecordAttempt() error: %v", err)
		}
		// A second writer that also started from attempts 0 must not win.
		err := m.RecordAttempt(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, ResponseStatus: &fail, NextRetryAt: &next})
		if !errors.Is(err, ErrStaleDelivery) {
			t.Fatalf("RecordAttempt() with stale attempt count error = %v, want ErrStaleDelivery", err)
		}
		got, err := m.GetDelivery(ctx, "del-1")
		if err != nil {
			t.Fatalf("GetDelivery() error: %v", err)
		}
		if got.Attempts != 1 {
			t.Errorf("attempts = %d after stale write, want 1", got.Attempts)
		}
	})

	t.Run("missing record", func(t *testing.T) {
		m := NewMemory()
		err := m.RecordAttempt(ctx, &model.Delivery{ID: "missing", Attempts: 1})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("RecordAttempt(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryUpdateDeliveryKeepsSuccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now().UTC()
	status := 200

	if err := m.CreateDelivery(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("CreateDelivery() error: %v", err)
	}
	if err := m.RecordAttempt(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1, ResponseStatus: &status, DeliveredAt: &now}); err != nil {
		t.Fatalf("RecordAttempt() error: %v", err)
	}

	err := m.UpdateDelivery(ctx, &model.Delivery{ID: "del-1", EndpointID: "ep-1", EventType: "e", Payload: []byte(`{}`), Attempts: 1})
	if !errors.Is(err, ErrStaleDelivery) {
		t.Fatalf("UpdateDelivery() clearing DeliveredAt error = %v, want ErrStaleDelivery", err)
	}
	got, err := m.GetDelivery(ctx, "del-1")
	if err != nil {
		t.Fatalf("GetDelivery() error: %v", err)
	}
	if got.DeliveredAt == nil {
		t.Error("UpdateDelivery() erased DeliveredAt")
	}
}

func TestMemorySweepLock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release, held, err := m.AcquireSweepLock(ctx)
	if err != nil || !held {
		t.Fatalf("AcquireSweepLock() = held %v, err %v; want held", held, err)
	}

	_, held2, err := m.AcquireSweepLock(ctx)
	if err != nil {
		t.Fatalf("AcquireSweepLock() error: %v", err)
	}
	if held2 {
		t.Error("second AcquireSweepLock() held = true while lock taken, want false")
	}

	release()

	release, held, err = m.AcquireSweepLock(ctx)
	if err != nil || !held {
		t.Fatalf("AcquireSweepLock() after release = held %v, err %v; want held", held, err)
	}
	release()
}

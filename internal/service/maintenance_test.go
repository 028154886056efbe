package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/storage"
)

type trackingStore struct {
	memStore
	deletedBefore time.Time
}

func (t *trackingStore) DeleteFailuresBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	t.deletedBefore = olderThan
	return 3, nil
}

type trackingAlerts struct {
	deletedBefore time.Time
}

func (t *trackingAlerts) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	return alert, nil
}

func (t *trackingAlerts) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (t *trackingAlerts) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	t.deletedBefore = olderThan
	return nil
}

type trackingPruner struct {
	pruned bool
}

func (t *trackingPruner) Prune(ctx context.Context) error {
	t.pruned = true
	return nil
}

type fakeLocker struct {
	acquired bool
	unlocked bool
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked = true }, true, nil
}

func TestMaintenanceTickCleansUp(t *testing.T) {
	store := &trackingStore{}
	alerts := &trackingAlerts{}
	pruner := &trackingPruner{}
	locker := &fakeLocker{acquired: true}

	m := NewMaintenance(nil, store, alerts, pruner, locker, nil, nil, MaintenanceOptions{
		Retention: 90 * 24 * time.Hour,
		LockKey:   42,
	}, zerolog.Nop())

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := m.tick(context.Background(), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantHorizon := at.Add(-90 * 24 * time.Hour)
	if !store.deletedBefore.Equal(wantHorizon) {
		t.Fatalf("failure horizon = %s, want %s", store.deletedBefore, wantHorizon)
	}
	if !alerts.deletedBefore.Equal(wantHorizon) {
		t.Fatalf("alert horizon = %s, want %s", alerts.deletedBefore, wantHorizon)
	}
	if !pruner.pruned {
		t.Fatal("attempt samples must be pruned")
	}
	if !locker.unlocked {
		t.Fatal("advisory lock must be released")
	}
}

func TestMaintenanceTickSkipsWithoutLock(t *testing.T) {
	store := &trackingStore{}
	locker := &fakeLocker{acquired: false}

	m := NewMaintenance(nil, store, nil, nil, locker, nil, nil, MaintenanceOptions{
		Retention: 24 * time.Hour,
		LockKey:   42,
	}, zerolog.Nop())

	if err := m.tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.deletedBefore.IsZero() {
		t.Fatal("tick must be skipped when the advisory lock is held elsewhere")
	}
}

package dnszone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
)

// fakeProvider is an in-memory dnszone.Provider
type fakeProvider struct {
	mu      sync.Mutex
	records map[string]Record // keyed by provider record ID
	nextID  int
	deletes int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{records: make(map[string]Record)}
}

func (f *fakeProvider) EnsureRecord(_ context.Context, _ string, record Record) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, existing := range f.records {
		if existing.Type == record.Type && existing.Name == record.Name && existing.Value == record.Value {
			if existing.TTL == record.TTL && existing.Proxied == record.Proxied {
				return id, false, nil
			}
			f.records[id] = record
			return id, true, nil
		}
	}

	f.nextID++
	id := fmt.Sprintf("rec-%d", f.nextID)
	f.records[id] = record
	return id, true, nil
}

func (f *fakeProvider) DeleteRecord(_ context.Context, _ string, providerRecordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if _, ok := f.records[providerRecordID]; !ok {
		return ErrNotFound
	}
	delete(f.records, providerRecordID)
	return nil
}

func (f *fakeProvider) FindRecord(_ context.Context, _ string, recordType, name, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.records {
		if existing.Type == recordType && existing.Name == name && existing.Value == value {
			return id, nil
		}
	}
	return "", ErrNotFound
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeResolver answers TXT lookups from a fixed map
type fakeResolver struct {
	mu      sync.Mutex
	answers map[string][]string
	queries int
}

func (r *fakeResolver) LookupTXT(_ context.Context, fqdn string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	return r.answers[fqdn], nil
}

func newManager(p Provider, r Resolver) *Manager {
	return NewManager("internal.example.com", "zone-1", p, r, 500*time.Millisecond, time.Millisecond)
}

func TestPublishChallengeIdempotent(t *testing.T) {
	provider := newFakeProvider()
	m := newManager(provider, &fakeResolver{})

	rec1, err := m.PublishChallenge(context.Background(), "collector.internal.example.com", "tok", "value-1")
	if err != nil {
		t.Fatalf("PublishChallenge() error: %v", err)
	}
	if rec1.FQDN != "_acme-challenge.collector.internal.example.com" {
		t.Errorf("FQDN = %q", rec1.FQDN)
	}

	rec2, err := m.PublishChallenge(context.Background(), "collector.internal.example.com", "tok", "value-1")
	if err != nil {
		t.Fatalf("second PublishChallenge() error: %v", err)
	}

	if provider.count() != 1 {
		t.Errorf("publish is not idempotent: %d records at provider, want 1", provider.count())
	}
	if rec1.ProviderRecordID != rec2.ProviderRecordID {
		t.Errorf("replayed publish created a new record: %s vs %s", rec1.ProviderRecordID, rec2.ProviderRecordID)
	}
}

func TestPublishChallengeOutsideZone(t *testing.T) {
	m := newManager(newFakeProvider(), &fakeResolver{})

	_, err := m.PublishChallenge(context.Background(), "collector.other.example.org", "tok", "v")
	if err == nil {
		t.Fatalf("expected error for hostname outside zone")
	}
	if certerr.KindOf(err) != certerr.KindConfiguration {
		t.Errorf("error kind = %v, want configuration", certerr.KindOf(err))
	}
}

func TestRemoveChallengeAlreadyRemoved(t *testing.T) {
	provider := newFakeProvider()
	m := newManager(provider, &fakeResolver{})

	rec, err := m.PublishChallenge(context.Background(), "collector.internal.example.com", "tok", "v")
	if err != nil {
		t.Fatalf("PublishChallenge() error: %v", err)
	}

	if err := m.RemoveChallenge(context.Background(), rec); err != nil {
		t.Fatalf("RemoveChallenge() error: %v", err)
	}
	// A retry after partial failure must also succeed
	if err := m.RemoveChallenge(context.Background(), rec); err != nil {
		t.Errorf("second RemoveChallenge() error: %v, want nil", err)
	}
	if provider.count() != 0 {
		t.Errorf("%d records left at provider, want 0", provider.count())
	}
}

func TestRemoveChallengeWithoutProviderID(t *testing.T) {
	provider := newFakeProvider()
	m := newManager(provider, &fakeResolver{})

	rec, err := m.PublishChallenge(context.Background(), "collector.internal.example.com", "tok", "v")
	if err != nil {
		t.Fatalf("PublishChallenge() error: %v", err)
	}

	// Simulate an earlier attempt that lost the provider record ID
	rec.ProviderRecordID = ""
	if err := m.RemoveChallenge(context.Background(), rec); err != nil {
		t.Fatalf("RemoveChallenge() error: %v", err)
	}
	if provider.count() != 0 {
		t.Errorf("record was not located and removed")
	}
}

func TestEnsureHostRecordTypeSelection(t *testing.T) {
	provider := newFakeProvider()
	m := newManager(provider, &fakeResolver{})

	tests := []struct {
		name     string
		target   string
		wantType string
	}{
		{name: "IPv4 target gets an A record", target: "10.1.2.3", wantType: "A"},
		{name: "hostname target gets a CNAME", target: "lb.internal.example.com", wantType: "CNAME"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hostname := fmt.Sprintf("svc%d.internal.example.com", i)
			if err := m.EnsureHostRecord(context.Background(), hostname, tt.target); err != nil {
				t.Fatalf("EnsureHostRecord() error: %v", err)
			}

			id, err := provider.FindRecord(context.Background(), "zone-1", tt.wantType, hostname, tt.target)
			if err != nil || id == "" {
				t.Errorf("expected %s record for %s, got err=%v", tt.wantType, hostname, err)
			}
		})
	}
}

func TestWaitForPropagation(t *testing.T) {
	fqdn := "_acme-challenge.collector.internal.example.com"

	t.Run("record visible", func(t *testing.T) {
		resolver := &fakeResolver{answers: map[string][]string{fqdn: {"other", "expected"}}}
		m := newManager(newFakeProvider(), resolver)

		if err := m.WaitForPropagation(context.Background(), fqdn, "expected"); err != nil {
			t.Errorf("WaitForPropagation() error: %v", err)
		}
	})

	t.Run("record never appears", func(t *testing.T) {
		resolver := &fakeResolver{answers: map[string][]string{}}
		m := newManager(newFakeProvider(), resolver)

		err := m.WaitForPropagation(context.Background(), fqdn, "expected")
		if err == nil {
			t.Fatalf("expected timeout error")
		}
		if certerr.KindOf(err) != certerr.KindTransient {
			t.Errorf("error kind = %v, want transient", certerr.KindOf(err))
		}
		if resolver.queries == 0 {
			t.Errorf("resolver was never polled")
		}
	})

	t.Run("stale value is not accepted", func(t *testing.T) {
		resolver := &fakeResolver{answers: map[string][]string{fqdn: {"stale-value"}}}
		m := newManager(newFakeProvider(), resolver)

		if err := m.WaitForPropagation(context.Background(), fqdn, "fresh-value"); err == nil {
			t.Errorf("stale TXT value must not satisfy propagation check")
		}
	})

	t.Run("cancelled context stops polling", func(t *testing.T) {
		resolver := &fakeResolver{answers: map[string][]string{}}
		m := newManager(newFakeProvider(), resolver)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := m.WaitForPropagation(ctx, fqdn, "v"); !errors.Is(err, context.Canceled) && err == nil {
			t.Errorf("expected error after cancellation")
		}
	})
}

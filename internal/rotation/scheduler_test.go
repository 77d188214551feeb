package rotation

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/acmeclient"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certstore"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
)

func TestNeedsRenewal(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	threshold := 30 * 24 * time.Hour

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"10 days remaining", now.Add(10 * 24 * time.Hour), true},
		{"29 days remaining", now.Add(29 * 24 * time.Hour), true},
		{"exactly 30 days remaining", now.Add(30 * 24 * time.Hour), false},
		{"60 days remaining", now.Add(60 * 24 * time.Hour), false},
		{"already expired", now.Add(-24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRenewal(tt.expiresAt, now, threshold); got != tt.want {
				t.Errorf("NeedsRenewal(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

type fakeIdentities struct {
	mu         sync.Mutex
	identities []model.ServiceIdentity
	failures   map[int]int
	degraded   map[int]bool
	resets     map[int]int
}

func newFakeIdentities(identities ...model.ServiceIdentity) *fakeIdentities {
	f := &fakeIdentities{
		identities: identities,
		failures:   make(map[int]int),
		degraded:   make(map[int]bool),
		resets:     make(map[int]int),
	}
	for _, id := range identities {
		f.failures[id.ID] = id.ConsecutiveFailures
	}
	return f
}

func (f *fakeIdentities) List(_ context.Context) ([]model.ServiceIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ServiceIdentity, len(f.identities))
	copy(out, f.identities)
	return out, nil
}

func (f *fakeIdentities) IncrementFailure(_ context.Context, identityID int, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[identityID]++
	return f.failures[identityID], nil
}

func (f *fakeIdentities) MarkDegraded(_ context.Context, identityID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded[identityID] = true
	for i := range f.identities {
		if f.identities[i].ID == identityID {
			f.identities[i].Status = model.IdentityStatusDegraded
		}
	}
	return nil
}

func (f *fakeIdentities) ResetFailures(_ context.Context, identityID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[identityID] = 0
	f.resets[identityID]++
	return nil
}

type fakeCerts struct {
	mu       sync.Mutex
	entries  map[int]*certstore.Entry
	puts     []*certstore.Entry
	nextID   int
	failPuts int // number of Put calls to reject before recovering
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{entries: make(map[int]*certstore.Entry)}
}

func (f *fakeCerts) Get(_ context.Context, identityID int) (*certstore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[identityID]
	if !ok {
		return nil, certstore.ErrNoRecord
	}
	return entry, nil
}

func (f *fakeCerts) Put(_ context.Context, identity *model.ServiceIdentity, entry *certstore.Entry) (*model.CertificateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts > 0 {
		f.failPuts--
		return nil, certerr.StoreIntegrity("certstore.Put", context.DeadlineExceeded)
	}
	f.nextID++
	version := 1
	if prev, ok := f.entries[identity.ID]; ok {
		version = prev.Version + 1
	}
	entry.Version = version
	f.entries[identity.ID] = entry
	f.puts = append(f.puts, entry)
	return &model.CertificateRecord{
		ID:         f.nextID,
		IdentityID: identity.ID,
		Version:    version,
	}, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	run   func(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, identity.Name)
	f.mu.Unlock()
	return f.run(identity)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeOrders struct {
	mu       sync.Mutex
	nextID   int
	states   map[int]string
	issued   map[int]int    // order id -> record id
	failed   map[int]string // order id -> error message
	orphaned []model.CertificateOrder
	stale    []model.CertificateOrder
	recs     map[int]*dnszone.ChallengeRecord
	removed  []int
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		states: make(map[int]string),
		issued: make(map[int]int),
		failed: make(map[int]string),
		recs:   make(map[int]*dnszone.ChallengeRecord),
	}
}

// create opens an order the way the real order store does: refused while any
// non-terminal order exists
func (f *fakeOrders) create(identityID int, hostname string) (*model.CertificateOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, state := range f.states {
		if !model.IsTerminalOrderState(state) {
			return nil, acmeclient.ErrOrderInFlight
		}
	}
	f.nextID++
	f.states[f.nextID] = model.OrderStateCreated
	return &model.CertificateOrder{
		ID:         f.nextID,
		IdentityID: identityID,
		Hostname:   hostname,
		State:      model.OrderStateCreated,
	}, nil
}

func (f *fakeOrders) MarkIssued(_ context.Context, orderID, recordID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued[orderID] = recordID
	f.states[orderID] = model.OrderStateIssued
	return nil
}

func (f *fakeOrders) MarkFailed(_ context.Context, orderID int, errorMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[orderID] = errorMsg
	f.states[orderID] = model.OrderStateFailed
	kept := f.stale[:0]
	for _, o := range f.stale {
		if o.ID != orderID {
			kept = append(kept, o)
		}
	}
	f.stale = kept
	return nil
}

func (f *fakeOrders) ListStaleNonTerminal(_ context.Context, _ time.Time, _ int) ([]model.CertificateOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CertificateOrder(nil), f.stale...), nil
}

func (f *fakeOrders) ListOrphanedChallenges(_ context.Context, _ int) ([]model.CertificateOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orphaned, nil
}

func (f *fakeOrders) GetChallenge(_ context.Context, orderID int) (*dnszone.ChallengeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[orderID], nil
}

func (f *fakeOrders) MarkChallengeRemoved(_ context.Context, orderID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, orderID)
	delete(f.recs, orderID)
	f.orphaned = nil
	return nil
}

func (f *fakeOrders) stateOf(orderID int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[orderID]
}

type fakeTrust struct {
	mu        sync.Mutex
	refreshes int
}

func (f *fakeTrust) Refresh(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

type fakeEvents struct {
	mu       sync.Mutex
	degraded []string
}

func (f *fakeEvents) PublishIdentityDegraded(_ context.Context, identity, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = append(f.degraded, identity)
	return nil
}

type fakeDNS struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeDNS) RemoveChallenge(_ context.Context, rec *dnszone.ChallengeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, rec.FQDN)
	return nil
}

type fixture struct {
	identities *fakeIdentities
	certs      *fakeCerts
	runner     *fakeRunner
	orders     *fakeOrders
	trust      *fakeTrust
	events     *fakeEvents
	dns        *fakeDNS
	scheduler  *Scheduler
}

func newFixture(identities *fakeIdentities, runner *fakeRunner) *fixture {
	f := &fixture{
		identities: identities,
		certs:      newFakeCerts(),
		runner:     runner,
		orders:     newFakeOrders(),
		trust:      &fakeTrust{},
		events:     &fakeEvents{},
		dns:        &fakeDNS{},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f.scheduler = NewScheduler(&Config{
		Identities:             f.identities,
		Certs:                  f.certs,
		Runner:                 f.runner,
		Orders:                 f.orders,
		Trust:                  f.trust,
		Events:                 f.events,
		DNS:                    f.dns,
		Logger:                 logrus.NewEntry(logger),
		IntervalSec:            300,
		RenewBeforeDays:        30,
		MaxConsecutiveFailures: 3,
		Concurrency:            4,
		RateLimitRetryHours:    1,
		OrderTimeoutSec:        600,
	})
	return f
}

func collector() model.ServiceIdentity {
	return model.ServiceIdentity{
		BaseModel: model.BaseModel{ID: 1},
		Name:      "content-collector",
		Hostname:  "collector.internal.example.com",
		Status:    model.IdentityStatusActive,
	}
}

func successfulRun(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
	return &model.CertificateOrder{ID: 10, IdentityID: identity.ID, State: model.OrderStateFinalizing},
		&acmeclient.Result{
			CertPem:   "cert",
			KeyPem:    "key",
			ChainPem:  "chain",
			Issuer:    "Test CA",
			IssuedAt:  time.Now(),
			ExpiresAt: time.Now().Add(90 * 24 * time.Hour),
		}, nil
}

func TestRunOnceIssuesFirstCertificate(t *testing.T) {
	runner := &fakeRunner{run: successfulRun}
	f := newFixture(newFakeIdentities(collector()), runner)

	f.scheduler.RunOnce(context.Background())

	if runner.callCount() != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.callCount())
	}
	if len(f.certs.puts) != 1 {
		t.Fatalf("store writes = %d, want 1", len(f.certs.puts))
	}
	if f.orders.issued[10] == 0 {
		t.Errorf("order was not marked issued with a record reference")
	}
	if f.trust.refreshes != 1 {
		t.Errorf("trust refreshes = %d, want 1", f.trust.refreshes)
	}
	if f.identities.resets[1] != 1 {
		t.Errorf("failure resets = %d, want 1", f.identities.resets[1])
	}
}

func TestRunOnceRenewsUnderThreshold(t *testing.T) {
	// 90-day certificate with 10 days remaining against a 30-day threshold
	runner := &fakeRunner{run: successfulRun}
	f := newFixture(newFakeIdentities(collector()), runner)
	f.certs.entries[1] = &certstore.Entry{
		IdentityID: 1,
		Version:    1,
		ExpiresAt:  time.Now().Add(10 * 24 * time.Hour),
	}

	f.scheduler.RunOnce(context.Background())

	if runner.callCount() != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.callCount())
	}
	if got := f.certs.entries[1].Version; got != 2 {
		t.Errorf("stored version = %d, want 2", got)
	}
}

func TestRunOnceSkipsFreshCertificate(t *testing.T) {
	runner := &fakeRunner{run: successfulRun}
	f := newFixture(newFakeIdentities(collector()), runner)
	f.certs.entries[1] = &certstore.Entry{
		IdentityID: 1,
		Version:    1,
		ExpiresAt:  time.Now().Add(60 * 24 * time.Hour),
	}

	f.scheduler.RunOnce(context.Background())

	if runner.callCount() != 0 {
		t.Errorf("runner calls = %d, want 0 for a fresh certificate", runner.callCount())
	}
}

func TestRunOnceSkipsDegradedIdentity(t *testing.T) {
	degraded := collector()
	degraded.Status = model.IdentityStatusDegraded

	runner := &fakeRunner{run: successfulRun}
	f := newFixture(newFakeIdentities(degraded), runner)

	f.scheduler.RunOnce(context.Background())

	if runner.callCount() != 0 {
		t.Errorf("runner calls = %d, want 0 for a degraded identity", runner.callCount())
	}
}

func TestConsecutiveFailuresDegrade(t *testing.T) {
	runner := &fakeRunner{run: func(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
		return nil, nil, certerr.Validation("acmeclient.Issue", context.DeadlineExceeded)
	}}
	f := newFixture(newFakeIdentities(collector()), runner)

	// Threshold is 3 consecutive failures
	for i := 0; i < 3; i++ {
		f.scheduler.RunOnce(context.Background())
	}

	if !f.identities.degraded[1] {
		t.Fatalf("identity not degraded after 3 consecutive failures")
	}
	if len(f.events.degraded) != 1 || f.events.degraded[0] != "content-collector" {
		t.Errorf("degraded events = %v, want [content-collector]", f.events.degraded)
	}

	// Further passes skip the degraded identity entirely
	before := runner.callCount()
	f.scheduler.RunOnce(context.Background())
	if runner.callCount() != before {
		t.Errorf("degraded identity was retried")
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	var fail bool
	runner := &fakeRunner{run: func(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
		if fail {
			return nil, nil, certerr.Transient("acmeclient.Issue", context.DeadlineExceeded)
		}
		return successfulRun(identity)
	}}
	f := newFixture(newFakeIdentities(collector()), runner)

	fail = true
	f.scheduler.RunOnce(context.Background())
	fail = false
	f.scheduler.RunOnce(context.Background())

	if f.identities.failures[1] != 0 {
		t.Errorf("failure counter = %d after success, want 0", f.identities.failures[1])
	}
	if f.identities.degraded[1] {
		t.Errorf("identity degraded despite recovery")
	}
}

func TestOrderInFlightIsNotAFailure(t *testing.T) {
	runner := &fakeRunner{run: func(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
		return nil, nil, acmeclient.ErrOrderInFlight
	}}
	f := newFixture(newFakeIdentities(collector()), runner)

	f.scheduler.RunOnce(context.Background())

	if f.identities.failures[1] != 0 {
		t.Errorf("in-flight order counted as failure")
	}
}

func TestRateLimitHoldsOffRetries(t *testing.T) {
	runner := &fakeRunner{run: func(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
		return nil, nil, certerr.RateLimited("acmeclient.Issue", context.DeadlineExceeded)
	}}
	f := newFixture(newFakeIdentities(collector()), runner)

	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.scheduler.now = func() time.Time { return clock }

	f.scheduler.RunOnce(context.Background())
	if runner.callCount() != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.callCount())
	}

	// 30 minutes later: still inside the 1 hour hold-off
	clock = clock.Add(30 * time.Minute)
	f.scheduler.RunOnce(context.Background())
	if runner.callCount() != 1 {
		t.Errorf("rate limited identity retried during hold-off")
	}

	// Past the hold-off the identity is attempted again
	clock = clock.Add(45 * time.Minute)
	f.scheduler.RunOnce(context.Background())
	if runner.callCount() != 2 {
		t.Errorf("runner calls = %d after hold-off expiry, want 2", runner.callCount())
	}
}

func TestStoreFailureReleasesOrderSlot(t *testing.T) {
	// The store rejects the first write after a successful issuance. The
	// order must still reach a terminal state so the next pass can open a
	// fresh one once the store recovers.
	identities := newFakeIdentities(collector())
	sharedOrders := newFakeOrders()

	runner := &fakeRunner{run: func(identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error) {
		order, err := sharedOrders.create(identity.ID, identity.Hostname)
		if err != nil {
			return nil, nil, err
		}
		return order, &acmeclient.Result{
			CertPem:   "cert",
			KeyPem:    "key",
			ChainPem:  "chain",
			Issuer:    "Test CA",
			IssuedAt:  time.Now(),
			ExpiresAt: time.Now().Add(90 * 24 * time.Hour),
		}, nil
	}}

	f := newFixture(identities, runner)
	f.orders = sharedOrders

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f.scheduler = NewScheduler(&Config{
		Identities:             f.identities,
		Certs:                  f.certs,
		Runner:                 f.runner,
		Orders:                 sharedOrders,
		Trust:                  f.trust,
		Events:                 f.events,
		DNS:                    f.dns,
		Logger:                 logrus.NewEntry(logger),
		IntervalSec:            300,
		RenewBeforeDays:        30,
		MaxConsecutiveFailures: 3,
		Concurrency:            4,
		RateLimitRetryHours:    1,
		OrderTimeoutSec:        600,
	})

	f.certs.failPuts = 1
	f.scheduler.RunOnce(context.Background())

	if got := sharedOrders.stateOf(1); got != model.OrderStateFailed {
		t.Fatalf("order state after store failure = %q, want failed", got)
	}
	if f.identities.failures[1] != 1 {
		t.Errorf("failure counter = %d, want 1", f.identities.failures[1])
	}

	// Store recovered: the next pass must issue again, not hit an
	// in-flight refusal
	f.scheduler.RunOnce(context.Background())

	if runner.callCount() != 2 {
		t.Fatalf("runner calls = %d, want 2", runner.callCount())
	}
	if len(f.certs.puts) != 1 {
		t.Fatalf("store writes = %d, want 1", len(f.certs.puts))
	}
	if got := sharedOrders.stateOf(2); got != model.OrderStateIssued {
		t.Errorf("second order state = %q, want issued", got)
	}
	if f.identities.failures[1] != 0 {
		t.Errorf("failure counter = %d after recovery, want 0", f.identities.failures[1])
	}
}

func TestSweepFailsAbandonedOrders(t *testing.T) {
	// An order stuck in validating with a live challenge, as left behind by
	// a process crash. The sweep must clean the challenge, fail the order
	// and release the identity's issuance slot.
	runner := &fakeRunner{run: successfulRun}
	f := newFixture(newFakeIdentities(), runner)

	abandoned := model.CertificateOrder{
		ID:         3,
		IdentityID: 1,
		Hostname:   "collector.internal.example.com",
		State:      model.OrderStateValidating,
	}
	f.orders.states[3] = model.OrderStateValidating
	f.orders.stale = []model.CertificateOrder{abandoned}
	f.orders.recs[3] = &dnszone.ChallengeRecord{
		FQDN:             "_acme-challenge.collector.internal.example.com",
		ProviderRecordID: "rec-3",
	}

	f.scheduler.RunOnce(context.Background())

	if got := f.orders.stateOf(3); got != model.OrderStateFailed {
		t.Fatalf("abandoned order state = %q, want failed", got)
	}
	if len(f.dns.removed) != 1 {
		t.Errorf("challenge removals = %d, want 1", len(f.dns.removed))
	}
	if len(f.orders.removed) != 1 || f.orders.removed[0] != 3 {
		t.Errorf("removal recorded for orders %v, want [3]", f.orders.removed)
	}

	// The slot is free again: a new order opens without an in-flight refusal
	if _, err := f.orders.create(1, "collector.internal.example.com"); err != nil {
		t.Errorf("create after sweep returned %v, want nil", err)
	}
}

func TestSweepRemovesOrphanedChallenges(t *testing.T) {
	runner := &fakeRunner{run: successfulRun}
	f := newFixture(newFakeIdentities(), runner)

	f.orders.orphaned = []model.CertificateOrder{{ID: 7, State: model.OrderStateFailed}}
	f.orders.recs[7] = &dnszone.ChallengeRecord{
		FQDN:             "_acme-challenge.collector.internal.example.com",
		ProviderRecordID: "rec-7",
	}

	f.scheduler.RunOnce(context.Background())

	if len(f.dns.removed) != 1 {
		t.Fatalf("challenge removals = %d, want 1", len(f.dns.removed))
	}
	if len(f.orders.removed) != 1 || f.orders.removed[0] != 7 {
		t.Errorf("removal recorded for orders %v, want [7]", f.orders.removed)
	}
}

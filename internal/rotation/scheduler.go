// Package rotation drives certificate renewal. The scheduler ticks on a
// fixed interval, fans out over the active identities and renews every
// certificate whose remaining lifetime has fallen under the threshold.
package rotation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/acmeclient"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certstore"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
)

// Identities is the identity roster and failure accounting surface
type Identities interface {
	List(ctx context.Context) ([]model.ServiceIdentity, error)
	IncrementFailure(ctx context.Context, identityID int, lastError string) (int, error)
	MarkDegraded(ctx context.Context, identityID int) error
	ResetFailures(ctx context.Context, identityID int) error
}

// Certs is the versioned certificate store surface the scheduler needs
type Certs interface {
	Get(ctx context.Context, identityID int) (*certstore.Entry, error)
	Put(ctx context.Context, identity *model.ServiceIdentity, entry *certstore.Entry) (*model.CertificateRecord, error)
}

// Runner executes one issuance workflow for an identity
type Runner interface {
	Run(ctx context.Context, identity *model.ServiceIdentity) (*model.CertificateOrder, *acmeclient.Result, error)
}

// Orders is the slice of order persistence the scheduler touches after a
// successful issuance and during the sweep passes
type Orders interface {
	MarkIssued(ctx context.Context, orderID int, recordID int) error
	MarkFailed(ctx context.Context, orderID int, errorMsg string) error
	ListStaleNonTerminal(ctx context.Context, cutoff time.Time, limit int) ([]model.CertificateOrder, error)
	ListOrphanedChallenges(ctx context.Context, limit int) ([]model.CertificateOrder, error)
	GetChallenge(ctx context.Context, orderID int) (*dnszone.ChallengeRecord, error)
	MarkChallengeRemoved(ctx context.Context, orderID int) error
}

// Trust is notified after the store content changes
type Trust interface {
	Refresh(ctx context.Context) error
}

// Events announces identity degradation
type Events interface {
	PublishIdentityDegraded(ctx context.Context, identity, reason string) error
}

// ChallengeCleaner removes leftover challenge records found by the sweep
type ChallengeCleaner interface {
	RemoveChallenge(ctx context.Context, rec *dnszone.ChallengeRecord) error
}

// NeedsRenewal reports whether a certificate expiring at expiresAt must be
// renewed now. Renewal starts as soon as the remaining lifetime drops below
// the threshold; an already expired certificate trivially qualifies.
func NeedsRenewal(expiresAt, now time.Time, renewBefore time.Duration) bool {
	return expiresAt.Sub(now) < renewBefore
}

// Config holds the configuration for the rotation scheduler
type Config struct {
	Identities             Identities
	Certs                  Certs
	Runner                 Runner
	Orders                 Orders
	Trust                  Trust
	Events                 Events
	DNS                    ChallengeCleaner
	Logger                 *logrus.Entry
	IntervalSec            int
	RenewBeforeDays        int
	MaxConsecutiveFailures int
	Concurrency            int
	RateLimitRetryHours    int
	OrderTimeoutSec        int
}

// Scheduler is the periodic rotation worker
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	identities Identities
	certs      Certs
	runner     Runner
	orders     Orders
	trust      Trust
	events     Events
	dns        ChallengeCleaner
	logger     *logrus.Entry

	interval      time.Duration
	renewBefore   time.Duration
	maxFailures   int
	concurrency   int
	rateLimitHold time.Duration
	orderTimeout  time.Duration

	mu       sync.Mutex
	holdOffs map[int]time.Time // identity id -> earliest next attempt
	now      func() time.Time
}

// NewScheduler creates a rotation scheduler
func NewScheduler(cfg *Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		ctx:           ctx,
		cancel:        cancel,
		identities:    cfg.Identities,
		certs:         cfg.Certs,
		runner:        cfg.Runner,
		orders:        cfg.Orders,
		trust:         cfg.Trust,
		events:        cfg.Events,
		dns:           cfg.DNS,
		logger:        cfg.Logger.WithField("component", "rotation-scheduler"),
		interval:      time.Duration(cfg.IntervalSec) * time.Second,
		renewBefore:   time.Duration(cfg.RenewBeforeDays) * 24 * time.Hour,
		maxFailures:   cfg.MaxConsecutiveFailures,
		concurrency:   concurrency,
		rateLimitHold: time.Duration(cfg.RateLimitRetryHours) * time.Hour,
		orderTimeout:  time.Duration(cfg.OrderTimeoutSec) * time.Second,
		holdOffs:      make(map[int]time.Time),
		now:           time.Now,
	}
}

// Start begins periodic rotation. The first pass runs immediately so a fresh
// deployment does not wait a full interval for its initial certificates.
func (s *Scheduler) Start() {
	s.logger.Info("Starting rotation scheduler...")
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.RunOnce(s.ctx)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(s.ctx)
			case <-s.ctx.Done():
				s.logger.Info("Stopping rotation scheduler...")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.cancel()
}

// RunOnce performs a single rotation pass: fail abandoned orders, sweep
// leftover challenges, then check every active identity and renew where
// needed.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.sweepStaleOrders(ctx)
	s.sweepOrphanedChallenges(ctx)

	identities, err := s.identities.List(ctx)
	if err != nil {
		s.logger.Errorf("Failed to list identities: %v", err)
		return
	}
	if len(identities) == 0 {
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.concurrency)

	for _, identity := range identities {
		if identity.Status == model.IdentityStatusDegraded {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(ident model.ServiceIdentity) {
			defer wg.Done()
			defer func() { <-semaphore }()
			s.rotateIdentity(ctx, &ident)
		}(identity)
	}

	wg.Wait()
}

// ForceRotate runs one issuance for the identity immediately, regardless of
// remaining lifetime, degraded status or rate limit hold-off. Serves the
// operator issue endpoint. Returns ErrOrderInFlight unchanged when an order
// is already running.
func (s *Scheduler) ForceRotate(ctx context.Context, identity *model.ServiceIdentity) error {
	order, result, err := s.runner.Run(ctx, identity)
	if errors.Is(err, acmeclient.ErrOrderInFlight) {
		return err
	}
	if err != nil {
		s.handleFailure(ctx, identity, err)
		return err
	}
	s.handleSuccess(ctx, identity, order, result)
	return nil
}

func (s *Scheduler) rotateIdentity(ctx context.Context, identity *model.ServiceIdentity) {
	if until, held := s.heldOff(identity.ID); held {
		s.logger.Debugf("Identity %s rate limited, next attempt after %s", identity.Name, until.Format(time.RFC3339))
		return
	}

	entry, err := s.certs.Get(ctx, identity.ID)
	switch {
	case errors.Is(err, certstore.ErrNoRecord):
		// No certificate yet, issue the first one
	case err != nil:
		s.logger.Errorf("Identity %s: failed to load current certificate: %v", identity.Name, err)
		return
	default:
		if !NeedsRenewal(entry.ExpiresAt, s.now(), s.renewBefore) {
			return
		}
		s.logger.Infof("Identity %s: certificate expires %s, renewing",
			identity.Name, entry.ExpiresAt.Format(time.RFC3339))
	}

	order, result, err := s.runner.Run(ctx, identity)
	if errors.Is(err, acmeclient.ErrOrderInFlight) {
		s.logger.Debugf("Identity %s: order already in flight, skipping", identity.Name)
		return
	}
	if err != nil {
		s.handleFailure(ctx, identity, err)
		return
	}

	s.handleSuccess(ctx, identity, order, result)
}

func (s *Scheduler) handleSuccess(ctx context.Context, identity *model.ServiceIdentity, order *model.CertificateOrder, result *acmeclient.Result) {
	record, err := s.certs.Put(ctx, identity, &certstore.Entry{
		IdentityID:      identity.ID,
		IdentityName:    identity.Name,
		Hostname:        identity.Hostname,
		CertPem:         result.CertPem,
		ChainPem:        result.ChainPem,
		KeyPem:          result.KeyPem,
		Issuer:          result.Issuer,
		Fingerprint:     result.Fingerprint,
		SubjectAltNames: result.SubjectAltNames,
		IssuedAt:        result.IssuedAt,
		ExpiresAt:       result.ExpiresAt,
	})
	if err != nil {
		// The certificate was issued but could not be stored. The order
		// must still reach a terminal state, otherwise it holds the
		// identity's issuance slot forever and no later pass can retry.
		s.logger.Errorf("Identity %s: failed to store issued certificate: %v", identity.Name, err)
		if markErr := s.orders.MarkFailed(ctx, order.ID, err.Error()); markErr != nil {
			s.logger.Errorf("Identity %s: failed to mark order %d failed: %v", identity.Name, order.ID, markErr)
		}
		s.handleFailure(ctx, identity, err)
		return
	}

	if err := s.orders.MarkIssued(ctx, order.ID, record.ID); err != nil {
		s.logger.Errorf("Identity %s: failed to mark order %d issued: %v", identity.Name, order.ID, err)
	}
	if err := s.trust.Refresh(ctx); err != nil {
		s.logger.Errorf("Failed to refresh trust bundle: %v", err)
	}
	if err := s.identities.ResetFailures(ctx, identity.ID); err != nil {
		s.logger.Errorf("Identity %s: failed to reset failure counter: %v", identity.Name, err)
	}

	s.clearHoldOff(identity.ID)
	s.logger.Infof("Identity %s: rotated to version %d, expires %s",
		identity.Name, record.Version, result.ExpiresAt.Format(time.RFC3339))
}

func (s *Scheduler) handleFailure(ctx context.Context, identity *model.ServiceIdentity, cause error) {
	s.logger.Errorf("Identity %s: rotation failed: %v", identity.Name, cause)

	if certerr.KindOf(cause) == certerr.KindRateLimited && s.rateLimitHold > 0 {
		s.setHoldOff(identity.ID, s.now().Add(s.rateLimitHold))
	}

	count, err := s.identities.IncrementFailure(ctx, identity.ID, cause.Error())
	if err != nil {
		s.logger.Errorf("Identity %s: failed to record failure: %v", identity.Name, err)
		return
	}

	if count >= s.maxFailures {
		if err := s.identities.MarkDegraded(ctx, identity.ID); err != nil {
			s.logger.Errorf("Identity %s: failed to mark degraded: %v", identity.Name, err)
			return
		}
		s.logger.Warnf("Identity %s degraded after %d consecutive failures", identity.Name, count)
		if s.events != nil {
			if err := s.events.PublishIdentityDegraded(s.ctx, identity.Name, cause.Error()); err != nil {
				s.logger.Errorf("Identity %s: failed to publish degraded event: %v", identity.Name, err)
			}
		}
	}
}

// sweepStaleOrders fails non-terminal orders whose workflow died without
// reaching a terminal state, for example in a process crash. A live workflow
// finishes within the order timeout, so anything untouched for longer than
// that is abandoned and only blocks its identity's issuance slot. The
// challenge record, if still live, is removed first.
func (s *Scheduler) sweepStaleOrders(ctx context.Context) {
	if s.orderTimeout <= 0 {
		return
	}

	cutoff := s.now().Add(-s.orderTimeout)
	orders, err := s.orders.ListStaleNonTerminal(ctx, cutoff, 20)
	if err != nil {
		s.logger.Errorf("Failed to list stale orders: %v", err)
		return
	}

	for _, order := range orders {
		rec, err := s.orders.GetChallenge(ctx, order.ID)
		if err != nil {
			s.logger.Errorf("Order %d: failed to load challenge of stale order: %v", order.ID, err)
			continue
		}
		if rec != nil {
			if err := s.dns.RemoveChallenge(ctx, rec); err != nil {
				s.logger.Errorf("Order %d: failed to remove challenge %s of stale order: %v", order.ID, rec.FQDN, err)
				continue
			}
			if err := s.orders.MarkChallengeRemoved(ctx, order.ID); err != nil {
				s.logger.Errorf("Order %d: failed to record challenge removal: %v", order.ID, err)
				continue
			}
		}
		if err := s.orders.MarkFailed(ctx, order.ID, "order abandoned before completion"); err != nil {
			s.logger.Errorf("Order %d: failed to mark stale order failed: %v", order.ID, err)
			continue
		}
		s.logger.Warnf("Failed abandoned order %d (%s, was %s)", order.ID, order.Hostname, order.State)
	}
}

// sweepOrphanedChallenges removes challenge records left behind by orders
// that reached a terminal state without cleanup, for example after a crash
// mid-workflow.
func (s *Scheduler) sweepOrphanedChallenges(ctx context.Context) {
	orders, err := s.orders.ListOrphanedChallenges(ctx, 20)
	if err != nil {
		s.logger.Errorf("Failed to list orphaned challenges: %v", err)
		return
	}

	for _, order := range orders {
		rec, err := s.orders.GetChallenge(ctx, order.ID)
		if err != nil {
			s.logger.Errorf("Order %d: failed to load orphaned challenge: %v", order.ID, err)
			continue
		}
		if rec == nil {
			continue
		}
		if err := s.dns.RemoveChallenge(ctx, rec); err != nil {
			s.logger.Errorf("Order %d: failed to remove orphaned challenge %s: %v", order.ID, rec.FQDN, err)
			continue
		}
		if err := s.orders.MarkChallengeRemoved(ctx, order.ID); err != nil {
			s.logger.Errorf("Order %d: failed to record challenge removal: %v", order.ID, err)
			continue
		}
		s.logger.Infof("Removed orphaned challenge %s from order %d", rec.FQDN, order.ID)
	}
}

func (s *Scheduler) heldOff(identityID int) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.holdOffs[identityID]
	if !ok {
		return time.Time{}, false
	}
	if s.now().After(until) {
		delete(s.holdOffs, identityID)
		return time.Time{}, false
	}
	return until, true
}

func (s *Scheduler) setHoldOff(identityID int, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdOffs[identityID] = until
}

func (s *Scheduler) clearHoldOff(identityID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holdOffs, identityID)
}

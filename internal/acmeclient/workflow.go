package acmeclient

import (
	"context"
	"log"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/certerr"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
)

// Orders is the order persistence surface the workflow drives
type Orders interface {
	OrderTracker
	Create(ctx context.Context, identity *model.ServiceIdentity) (*model.CertificateOrder, error)
	MarkFailed(ctx context.Context, orderID int, errorMsg string) error
}

// ChallengeCleaner tears down challenge records
type ChallengeCleaner interface {
	RemoveChallenge(ctx context.Context, rec *dnszone.ChallengeRecord) error
}

// Workflow runs one issuance attempt end to end: open the order, obtain the
// certificate under a hard deadline, and guarantee the challenge record is
// gone when the order reaches a terminal state
type Workflow struct {
	orders       Orders
	issuer       Issuer
	dns          ChallengeCleaner
	orderTimeout time.Duration
}

// NewWorkflow creates an issuance workflow
func NewWorkflow(orders Orders, issuer Issuer, dns ChallengeCleaner, orderTimeout time.Duration) *Workflow {
	return &Workflow{
		orders:       orders,
		issuer:       issuer,
		dns:          dns,
		orderTimeout: orderTimeout,
	}
}

// Run executes one issuance for the identity. Returns ErrOrderInFlight when
// the identity already has a non-terminal order (the caller's tick is a
// no-op for it). On failure the order lands in failed with its challenge
// removed, and the classified error is returned for the retry policy.
func (w *Workflow) Run(ctx context.Context, identity *model.ServiceIdentity) (*model.CertificateOrder, *Result, error) {
	order, err := w.orders.Create(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	issueCtx, cancel := context.WithTimeout(ctx, w.orderTimeout)
	defer cancel()

	result, err := w.issuer.Issue(issueCtx, order)
	if err != nil {
		classified := Classify("acmeclient.Issue", err)
		w.failOrder(order, classified)
		return order, nil, classified
	}

	if err := w.orders.SetState(ctx, order.ID, model.OrderStateFinalizing); err != nil {
		log.Printf("[ACME Workflow] Order %d: failed to record finalizing state: %v\n", order.ID, err)
	}

	order.State = model.OrderStateFinalizing
	return order, result, nil
}

// failOrder drives the order to failed and tears down any live challenge.
// Runs on a fresh context: the workflow deadline is usually the reason we
// are here, and cleanup must still happen.
func (w *Workflow) failOrder(order *model.CertificateOrder, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	w.removeChallenge(ctx, order.ID)

	if certerr.KindOf(cause) == certerr.KindValidation {
		if err := w.orders.SetState(ctx, order.ID, model.OrderStateInvalid); err != nil {
			log.Printf("[ACME Workflow] Order %d: failed to record invalid state: %v\n", order.ID, err)
		}
	}

	if err := w.orders.MarkFailed(ctx, order.ID, cause.Error()); err != nil {
		log.Printf("[ACME Workflow] Order %d: failed to mark failed: %v\n", order.ID, err)
	}
	order.State = model.OrderStateFailed
}

// removeChallenge removes the order's challenge record if one is still live
func (w *Workflow) removeChallenge(ctx context.Context, orderID int) {
	rec, err := w.orders.GetChallenge(ctx, orderID)
	if err != nil {
		log.Printf("[ACME Workflow] Order %d: failed to load challenge for cleanup: %v\n", orderID, err)
		return
	}
	if rec == nil {
		return
	}

	if err := w.dns.RemoveChallenge(ctx, rec); err != nil {
		log.Printf("[ACME Workflow] Order %d: failed to remove challenge %s: %v\n", orderID, rec.FQDN, err)
		return
	}
	if err := w.orders.MarkChallengeRemoved(ctx, orderID); err != nil {
		log.Printf("[ACME Workflow] Order %d: failed to record challenge removal: %v\n", orderID, err)
	}
}

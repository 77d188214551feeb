package acmeclient

import (
	"context"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/pki"
)

// LocalIssuer signs certificates with an in-process CA. It exists for
// offline development and integration tests; no ACME or DNS provider traffic
// is generated and orders skip the challenge states.
type LocalIssuer struct {
	ca       *pki.LocalCA
	tracker  OrderTracker
	lifetime time.Duration
}

// NewLocalIssuer creates a local issuer signing leaves with the given lifetime
func NewLocalIssuer(ca *pki.LocalCA, tracker OrderTracker, lifetime time.Duration) *LocalIssuer {
	return &LocalIssuer{ca: ca, tracker: tracker, lifetime: lifetime}
}

// Issue signs a leaf certificate for the order's hostname
func (i *LocalIssuer) Issue(ctx context.Context, order *model.CertificateOrder) (*Result, error) {
	_ = i.tracker.SetState(ctx, order.ID, model.OrderStateValidating)

	certPem, keyPem, err := i.ca.Sign(order.Hostname, i.lifetime)
	if err != nil {
		return nil, Classify("acmeclient.LocalIssue", err)
	}

	_ = i.tracker.SetState(ctx, order.ID, model.OrderStateValid)
	return buildResult(certPem, keyPem, i.ca.CertPEM())
}

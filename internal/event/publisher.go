// Package event publishes lifecycle notifications to dependent services over
// Redis pub/sub. The channel carries content notifications only; consumers
// fetch the actual material through the API.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	// ChannelTrustRefresh carries trust bundle recomputation events
	ChannelTrustRefresh = "certmesh:trust.refresh"
	// ChannelIdentityDegraded carries identity degradation alerts
	ChannelIdentityDegraded = "certmesh:identity.degraded"
)

// Event is the wire envelope for all published notifications
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TrustRefreshPayload describes a recomputed trust bundle
type TrustRefreshPayload struct {
	IssuerCount int      `json:"issuerCount"`
	Identities  []string `json:"identities"`
}

// IdentityDegradedPayload describes an identity that exhausted its retries
type IdentityDegradedPayload struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// Publisher publishes events to Redis
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a new event publisher
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishTrustRefresh notifies subscribers that the trust bundle changed
func (p *Publisher) PublishTrustRefresh(ctx context.Context, issuerCount int, identities []string) error {
	return p.publish(ctx, ChannelTrustRefresh, "trust.refresh", TrustRefreshPayload{
		IssuerCount: issuerCount,
		Identities:  identities,
	})
}

// PublishIdentityDegraded raises an operational alert for a degraded identity
func (p *Publisher) PublishIdentityDegraded(ctx context.Context, identity, reason string) error {
	return p.publish(ctx, ChannelIdentityDegraded, "identity.degraded", IdentityDegradedPayload{
		Identity: identity,
		Reason:   reason,
	})
}

func (p *Publisher) publish(ctx context.Context, channel, eventType string, payload any) error {
	if p.client == nil {
		// Events are best-effort; a missing broker must not block issuance
		return nil
	}

	evt := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("[Event] Failed to publish %s: %v\n", eventType, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

package acmeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/dnszone"
	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrOrderInFlight is returned when an identity already has a non-terminal
// order; the caller treats it as a no-op, not a failure.
var ErrOrderInFlight = errors.New("a non-terminal order already exists for this identity")

// OrderService persists certificate orders and their state transitions
type OrderService struct {
	db *gorm.DB
}

// NewOrderService creates a new order service
func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

// Create opens a new order for the identity. The identity row is locked for
// the duration of the check-then-insert, so concurrent ticks cannot open two
// orders for the same identity.
func (s *OrderService) Create(ctx context.Context, identity *model.ServiceIdentity) (*model.CertificateOrder, error) {
	order := &model.CertificateOrder{
		OrderUID:   uuid.NewString(),
		IdentityID: identity.ID,
		Hostname:   identity.Hostname,
		State:      model.OrderStateCreated,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked model.ServiceIdentity
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&locked, identity.ID).Error; err != nil {
			return fmt.Errorf("failed to lock identity: %w", err)
		}

		var inFlight int64
		if err := tx.Model(&model.CertificateOrder{}).
			Where("identity_id = ? AND state IN ?", identity.ID, model.NonTerminalOrderStates).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return ErrOrderInFlight
		}

		return tx.Create(order).Error
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// Get returns an order by ID
func (s *OrderService) Get(ctx context.Context, orderID int) (*model.CertificateOrder, error) {
	var order model.CertificateOrder
	if err := s.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetNonTerminal returns the identity's in-flight order, if any
func (s *OrderService) GetNonTerminal(ctx context.Context, identityID int) (*model.CertificateOrder, error) {
	var order model.CertificateOrder
	err := s.db.WithContext(ctx).
		Where("identity_id = ? AND state IN ?", identityID, model.NonTerminalOrderStates).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetState transitions an order to the given state
func (s *OrderService) SetState(ctx context.Context, orderID int, state string) error {
	return s.db.WithContext(ctx).Model(&model.CertificateOrder{}).
		Where("id = ?", orderID).
		Update("state", state).Error
}

// MarkFailed transitions an order to failed with its final error
func (s *OrderService) MarkFailed(ctx context.Context, orderID int, errorMsg string) error {
	// Truncate to the column limit
	if len(errorMsg) > 255 {
		errorMsg = errorMsg[:252] + "..."
	}

	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.CertificateOrder{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"state":        model.OrderStateFailed,
			"last_error":   errorMsg,
			"attempts":     gorm.Expr("attempts + 1"),
			"completed_at": &now,
		}).Error
}

// MarkIssued transitions an order to issued, pointing at the stored record.
// Called only after the certificate record write committed, so an issued
// order always references a durable record.
func (s *OrderService) MarkIssued(ctx context.Context, orderID int, recordID int) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.CertificateOrder{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"state":            model.OrderStateIssued,
			"result_record_id": recordID,
			"completed_at":     &now,
		}).Error
}

// SaveChallenge records the live challenge on the order so an interrupted
// workflow can still be cleaned up
func (s *OrderService) SaveChallenge(ctx context.Context, orderID int, rec *dnszone.ChallengeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	return s.db.WithContext(ctx).Model(&model.CertificateOrder{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"challenge_json":       data,
			"challenge_removed_at": nil,
		}).Error
}

// GetChallenge returns the order's live challenge, or nil when the order has
// none or it was already removed
func (s *OrderService) GetChallenge(ctx context.Context, orderID int) (*dnszone.ChallengeRecord, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(order.ChallengeJSON) == 0 || order.ChallengeRemovedAt != nil {
		return nil, nil
	}

	var rec dnszone.ChallengeRecord
	if err := json.Unmarshal(order.ChallengeJSON, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &rec, nil
}

// MarkChallengeRemoved records that the challenge TXT record is gone
func (s *OrderService) MarkChallengeRemoved(ctx context.Context, orderID int) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.CertificateOrder{}).
		Where("id = ?", orderID).
		Update("challenge_removed_at", &now).Error
}

// ListRecent returns the newest orders across all identities
func (s *OrderService) ListRecent(ctx context.Context, limit int) ([]model.CertificateOrder, error) {
	var orders []model.CertificateOrder
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListStaleNonTerminal returns non-terminal orders not updated since the
// cutoff. A live workflow touches its order on every state change, so an
// order this old belongs to a workflow that died mid-flight; the scheduler
// fails these to release the identity's issuance slot.
func (s *OrderService) ListStaleNonTerminal(ctx context.Context, cutoff time.Time, limit int) ([]model.CertificateOrder, error) {
	var orders []model.CertificateOrder
	err := s.db.WithContext(ctx).
		Where("state IN ?", model.NonTerminalOrderStates).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListOrphanedChallenges returns terminal orders whose challenge record was
// never confirmed removed. The scheduler sweeps these so no stale TXT record
// outlives its order.
func (s *OrderService) ListOrphanedChallenges(ctx context.Context, limit int) ([]model.CertificateOrder, error) {
	var orders []model.CertificateOrder
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{model.OrderStateIssued, model.OrderStateFailed}).
		Where("challenge_json IS NOT NULL AND challenge_removed_at IS NULL").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

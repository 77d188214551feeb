// Package identity manages the roster of mesh participants. Identities are
// seeded from configuration at startup and the rotation scheduler drives
// their failure accounting.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/model"
)

// Service handles service identity persistence and failure accounting
type Service struct {
	db *gorm.DB
}

// NewService creates a new identity service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Seed upserts the configured identities. An identity already present keeps
// its status and failure counters; only the hostname is reconciled. Removing
// an identity from configuration does not delete its rows, the scheduler
// simply stops rotating it.
func (s *Service) Seed(ctx context.Context, identities map[string]string) error {
	names := make([]string, 0, len(identities))
	for name := range identities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hostname := identities[name]
		var existing model.ServiceIdentity
		err := s.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record := &model.ServiceIdentity{
				Name:     name,
				Hostname: hostname,
				Status:   model.IdentityStatusActive,
			}
			if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
				return fmt.Errorf("failed to seed identity %s: %w", name, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to check identity %s: %w", name, err)
		}
		if existing.Hostname != hostname {
			if err := s.db.WithContext(ctx).Model(&existing).
				Update("hostname", hostname).Error; err != nil {
				return fmt.Errorf("failed to update identity %s: %w", name, err)
			}
		}
	}
	return nil
}

// List returns all identities ordered by name
func (s *Service) List(ctx context.Context) ([]model.ServiceIdentity, error) {
	var identities []model.ServiceIdentity
	if err := s.db.WithContext(ctx).Order("name asc").Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}

// GetByName retrieves an identity by its unique name
func (s *Service) GetByName(ctx context.Context, name string) (*model.ServiceIdentity, error) {
	var identity model.ServiceIdentity
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&identity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("identity not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return &identity, nil
}

// IncrementFailure bumps the consecutive failure counter and records the
// error message. Returns the new counter value so the caller can compare it
// against the degradation threshold.
func (s *Service) IncrementFailure(ctx context.Context, identityID int, lastError string) (int, error) {
	if len(lastError) > 255 {
		lastError = lastError[:255]
	}

	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.ServiceIdentity{}).
			Where("id = ?", identityID).
			Updates(map[string]interface{}{
				"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
				"last_error":           lastError,
			}).Error; err != nil {
			return err
		}
		var identity model.ServiceIdentity
		if err := tx.Select("consecutive_failures").First(&identity, identityID).Error; err != nil {
			return err
		}
		count = identity.ConsecutiveFailures
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	return count, nil
}

// MarkDegraded flips the identity out of automatic rotation. A degraded
// identity is only retried again after an operator reset.
func (s *Service) MarkDegraded(ctx context.Context, identityID int) error {
	result := s.db.WithContext(ctx).Model(&model.ServiceIdentity{}).
		Where("id = ?", identityID).
		Update("status", model.IdentityStatusDegraded)
	if result.Error != nil {
		return fmt.Errorf("failed to mark identity degraded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("identity not found: id=%d", identityID)
	}
	return nil
}

// ResetFailures clears the failure counter and restores active status. Used
// both after a successful rotation and by the operator reset endpoint.
func (s *Service) ResetFailures(ctx context.Context, identityID int) error {
	result := s.db.WithContext(ctx).Model(&model.ServiceIdentity{}).
		Where("id = ?", identityID).
		Updates(map[string]interface{}{
			"consecutive_failures": 0,
			"last_error":           "",
			"status":               model.IdentityStatusActive,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reset identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("identity not found: id=%d", identityID)
	}
	return nil
}

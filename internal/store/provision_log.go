package store

import (
	"context"
	"time"

	"provisioning-service/internal/model"
	"provisioning-service/prometheus"

	"gorm.io/gorm"
)

// ProvisioningLogStore is the gorm-backed, append-only audit trail. Rows are
// never updated or deleted.
type ProvisioningLogStore struct {
	db *gorm.DB
}

// NewProvisioningLogStore returns a log store over the control-plane connection.
func NewProvisioningLogStore(db *gorm.DB) *ProvisioningLogStore {
	return &ProvisioningLogStore{db: db}
}

// Append writes one step-attempt row.
func (s *ProvisioningLogStore) Append(ctx context.Context, entry *model.ProvisioningLogEntry) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListByTenant returns a tenant's entries in creation order, reconstructing
// the exact sequence of step attempts including any rollback marker.
func (s *ProvisioningLogStore) ListByTenant(ctx context.Context, tenantID uint) ([]model.ProvisioningLogEntry, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var entries []model.ProvisioningLogEntry
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

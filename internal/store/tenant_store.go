package store

import (
	"context"
	"errors"
	"time"

	"provisioning-service/internal/model"
	"provisioning-service/prometheus"

	"gorm.io/gorm"
)

// ErrTenantNotFound signals that no tenant exists for the given id, so
// callers can distinguish "never existed" from "not yet started".
var ErrTenantNotFound = errors.New("tenant not found")

// TenantStore is the gorm-backed store for the Tenant aggregate.
type TenantStore struct {
	db *gorm.DB
}

// NewTenantStore returns a store over the control-plane connection.
func NewTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{db: db}
}

// Create inserts a new tenant row.
func (s *TenantStore) Create(ctx context.Context, tenant *model.Tenant) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return s.db.WithContext(ctx).Create(tenant).Error
}

// Get returns a tenant by id or ErrTenantNotFound.
func (s *TenantStore) Get(ctx context.Context, id uint) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// List returns all tenants, newest first.
func (s *TenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())
	var tenants []model.Tenant
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// UpdateStatus sets the tenant's lifecycle status.
func (s *TenantStore) UpdateStatus(ctx context.Context, id uint, status model.TenantStatus) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	return s.updateChecked(ctx, id, map[string]interface{}{"status": status})
}

// SetContractID persists the external ledger reference on the tenant row.
func (s *TenantStore) SetContractID(ctx context.Context, id uint, contractID string) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	return s.updateChecked(ctx, id, map[string]interface{}{"soroban_contract_id": contractID})
}

// MarkFailed sets the terminal FAILED status together with the truncated
// provisioning error.
func (s *TenantStore) MarkFailed(ctx context.Context, id uint, message string) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	return s.updateChecked(ctx, id, map[string]interface{}{
		"status":             model.TenantStatusFailed,
		"provisioning_error": message,
	})
}

// Archive soft-deletes the tenant: only status and archived_at change, the
// data partition is left untouched so historical data stays queryable.
func (s *TenantStore) Archive(ctx context.Context, id uint) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	now := time.Now()
	return s.updateChecked(ctx, id, map[string]interface{}{
		"status":      model.TenantStatusArchived,
		"archived_at": now,
	})
}

func (s *TenantStore) updateChecked(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&model.Tenant{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

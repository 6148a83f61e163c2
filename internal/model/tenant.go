package model

import (
	"time"
)

// TenantStatus is the lifecycle state of a tenant. Transitions are monotonic:
// PENDING -> PROVISIONING -> ACTIVE, any unrecovered step failure lands in
// FAILED, and ACTIVE or FAILED tenants can be ARCHIVED. A FAILED tenant is
// terminal for that row; recovery means submitting a brand-new provisioning
// request.
type TenantStatus string

const (
	TenantStatusPending      TenantStatus = "PENDING"
	TenantStatusProvisioning TenantStatus = "PROVISIONING"
	TenantStatusActive       TenantStatus = "ACTIVE"
	TenantStatusFailed       TenantStatus = "FAILED"
	TenantStatusArchived     TenantStatus = "ARCHIVED"
)

// ProvisioningErrorMaxLen bounds the stored error message so oversized stack
// traces never leak into the tenants table.
const ProvisioningErrorMaxLen = 500

// Tenant represents one onboarded organization on the platform.
// Each tenant owns an isolated Postgres schema named SchemaName.
type Tenant struct {
	ID                uint         `json:"id" gorm:"primaryKey"`
	Name              string       `json:"name" gorm:"type:varchar(100);uniqueIndex"`
	SchemaName        string       `json:"schema_name" gorm:"type:varchar(120);uniqueIndex"`
	Status            TenantStatus `json:"status" gorm:"type:varchar(20);index;default:'PENDING'"`
	AdminEmail        string       `json:"admin_email" gorm:"type:varchar(100);not null"`
	AdminFirstName    string       `json:"admin_first_name" gorm:"type:varchar(100)"`
	AdminLastName     string       `json:"admin_last_name" gorm:"type:varchar(100)"`
	SorobanContractID *string      `json:"soroban_contract_id,omitempty" gorm:"type:varchar(120)"`
	ProvisioningError string       `json:"provisioning_error,omitempty" gorm:"type:varchar(500)"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	ArchivedAt        *time.Time   `json:"archived_at,omitempty"`
}

// AdminName returns the admin contact's display name.
func (t *Tenant) AdminName() string {
	return t.AdminFirstName + " " + t.AdminLastName
}

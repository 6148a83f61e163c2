package model

import (
	"time"
)

// ProvisioningStep identifies one unit of work in the provisioning pipeline.
type ProvisioningStep string

const (
	StepCreateTenantRecord   ProvisioningStep = "CREATE_TENANT_RECORD"
	StepCreateSchema         ProvisioningStep = "CREATE_SCHEMA"
	StepRunMigrations        ProvisioningStep = "RUN_MIGRATIONS"
	StepSeedRolesAndUser     ProvisioningStep = "SEED_ROLES_AND_USER"
	StepDeployLedgerRecord   ProvisioningStep = "DEPLOY_LEDGER_RECORD"
	StepStoreLedgerReference ProvisioningStep = "STORE_LEDGER_REFERENCE"
	StepSendWelcomeEmail     ProvisioningStep = "SEND_WELCOME_EMAIL"
)

// PipelineSteps is the fixed execution order of the provisioning pipeline.
var PipelineSteps = []ProvisioningStep{
	StepCreateTenantRecord,
	StepCreateSchema,
	StepRunMigrations,
	StepSeedRolesAndUser,
	StepDeployLedgerRecord,
	StepStoreLedgerReference,
	StepSendWelcomeEmail,
}

// StepStatus is the outcome of a single step attempt.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusRolledBack StepStatus = "ROLLED_BACK"
)

// ProvisioningLogEntry is one row per step attempt. The table is append-only:
// rows are never updated or deleted, so reading a tenant's entries in creation
// order reconstructs the exact sequence of step attempts, including any
// rollback marker.
type ProvisioningLogEntry struct {
	ID         uint             `json:"id" gorm:"primaryKey"`
	TenantID   uint             `json:"tenant_id" gorm:"index;not null"`
	Step       ProvisioningStep `json:"step" gorm:"type:varchar(40);not null"`
	Status     StepStatus       `json:"status" gorm:"type:varchar(20);not null"`
	Result     string           `json:"result,omitempty" gorm:"type:text"`
	Error      string           `json:"error,omitempty" gorm:"type:text"`
	DurationMs int64            `json:"duration_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

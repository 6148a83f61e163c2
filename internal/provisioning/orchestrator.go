package provisioning

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"provisioning-service/internal/model"
	"provisioning-service/prometheus"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TenantStore is the control-plane persistence the orchestrator drives.
type TenantStore interface {
	Create(ctx context.Context, tenant *model.Tenant) error
	UpdateStatus(ctx context.Context, id uint, status model.TenantStatus) error
	SetContractID(ctx context.Context, id uint, contractID string) error
	MarkFailed(ctx context.Context, id uint, message string) error
}

// ProvisioningLog is the append-only audit trail of step attempts. Append is
// best-effort from the orchestrator's point of view: a logging failure never
// aborts the step it describes.
type ProvisioningLog interface {
	Append(ctx context.Context, entry *model.ProvisioningLogEntry) error
}

// SchemaProvisioner creates and drops per-tenant partitions and runs their
// internal bootstrap. DropSchema is idempotent: dropping an absent partition
// succeeds.
type SchemaProvisioner interface {
	CreateSchema(ctx context.Context, schemaName string) error
	DropSchema(ctx context.Context, schemaName string) error
	RunMigrations(ctx context.Context, schemaName string) error
	Seed(ctx context.Context, schemaName, adminEmail, firstName, lastName, passwordHash string) (adminUserID int64, err error)
}

// LedgerRegistrar deploys a tenant-scoped record on the external ledger and
// returns an opaque contract reference. Treated as an unreliable remote call.
type LedgerRegistrar interface {
	Deploy(ctx context.Context, tenantID uint, tenantName string) (contractID string, err error)
}

// Notifier sends a welcome message on success or a failure notice on error.
// SendFailure never propagates an error; notification is a side channel, not
// a correctness requirement of the pipeline.
type Notifier interface {
	SendWelcome(ctx context.Context, tenantName, adminEmail, adminName, tenantURL string) error
	SendFailure(ctx context.Context, adminEmail, tenantName, errorMessage string)
}

// Request carries everything the pipeline needs. The schema name is generated
// and validated at request-acceptance time, before the job is enqueued.
type Request struct {
	Name           string
	SchemaName     string
	AdminEmail     string
	AdminFirstName string
	AdminLastName  string
}

// Orchestrator sequences the provisioning pipeline, owns the tenant state
// machine and performs the compensating rollback on failure.
type Orchestrator struct {
	store         TenantStore
	audit         ProvisioningLog
	schemas       SchemaProvisioner
	ledger        LedgerRegistrar
	notifier      Notifier
	portalBaseURL string
	stepTimeout   time.Duration
	log           *zap.Logger
}

// NewOrchestrator wires the pipeline's collaborators. stepTimeout bounds each
// step's side effect; zero disables the per-step deadline.
func NewOrchestrator(store TenantStore, audit ProvisioningLog, schemas SchemaProvisioner,
	ledger LedgerRegistrar, notifier Notifier, portalBaseURL string, stepTimeout time.Duration,
	log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:         store,
		audit:         audit,
		schemas:       schemas,
		ledger:        ledger,
		notifier:      notifier,
		portalBaseURL: portalBaseURL,
		stepTimeout:   stepTimeout,
		log:           log,
	}
}

// runState is the mutable state of one pipeline run.
type runState struct {
	req           Request
	tenant        *model.Tenant
	schemaCreated bool
	contractID    string
	adminUserID   int64
}

func (st *runState) tenantID() uint {
	if st.tenant == nil {
		return 0
	}
	return st.tenant.ID
}

// step is one entry of the data-driven pipeline table. run returns the result
// payload recorded on the step's COMPLETED log entry.
type step struct {
	name model.ProvisioningStep
	run  func(ctx context.Context, st *runState) (string, error)
}

// Provision executes the full pipeline for one tenant. Steps run strictly
// sequentially; the first failure stops the pipeline, enters the failure path
// and re-raises the triggering error to the caller so the job layer can mark
// the job failed.
func (o *Orchestrator) Provision(ctx context.Context, req Request) (*model.Tenant, error) {
	if !ValidSchemaName(req.SchemaName) {
		return nil, fmt.Errorf("invalid schema name %q", req.SchemaName)
	}

	prometheus.ProvisioningStartedCounter.Inc()
	prometheus.InFlightRunsGauge.Inc()
	defer prometheus.InFlightRunsGauge.Dec()

	st := &runState{req: req}
	log := o.log.With(zap.String("tenant_name", req.Name), zap.String("schema_name", req.SchemaName))

	for _, s := range o.steps() {
		log.Info("Provisioning step starting", zap.String("step", string(s.name)))

		stepCtx := ctx
		cancel := func() {}
		if o.stepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		}

		start := time.Now()
		result, err := s.run(stepCtx, st)
		duration := time.Since(start)
		cancel()

		if err != nil {
			prometheus.RecordStep(string(s.name), string(model.StepStatusFailed), duration)
			return nil, o.fail(ctx, st, s.name, duration, err)
		}

		prometheus.RecordStep(string(s.name), string(model.StepStatusCompleted), duration)
		o.appendLog(ctx, st.tenantID(), s.name, model.StepStatusCompleted, result, "", duration)
		log.Info("Provisioning step completed",
			zap.String("step", string(s.name)),
			zap.Duration("duration", duration))
	}

	// Only now is the tenant considered onboarded. Every step already has its
	// COMPLETED row, so a failed activation write skips the step-FAILED entry
	// and goes straight to the common failure path.
	if err := o.store.UpdateStatus(ctx, st.tenant.ID, model.TenantStatusActive); err != nil {
		err = fmt.Errorf("activate tenant: %w", err)
		log.Error("Tenant activation failed", zap.Error(err))
		return nil, o.abort(ctx, st, err)
	}
	st.tenant.Status = model.TenantStatusActive

	prometheus.ProvisioningCompletedCounter.WithLabelValues("active").Inc()
	log.Info("Tenant provisioned", zap.Uint("tenant_id", st.tenant.ID))
	return st.tenant, nil
}

// steps is the ordered pipeline table.
func (o *Orchestrator) steps() []step {
	return []step{
		{
			name: model.StepCreateTenantRecord,
			run: func(ctx context.Context, st *runState) (string, error) {
				tenant := &model.Tenant{
					Name:           st.req.Name,
					SchemaName:     st.req.SchemaName,
					Status:         model.TenantStatusProvisioning,
					AdminEmail:     st.req.AdminEmail,
					AdminFirstName: st.req.AdminFirstName,
					AdminLastName:  st.req.AdminLastName,
				}
				if err := o.store.Create(ctx, tenant); err != nil {
					return "", fmt.Errorf("create tenant record: %w", err)
				}
				st.tenant = tenant
				return "tenant record " + strconv.FormatUint(uint64(tenant.ID), 10), nil
			},
		},
		{
			name: model.StepCreateSchema,
			run: func(ctx context.Context, st *runState) (string, error) {
				if err := o.schemas.CreateSchema(ctx, st.req.SchemaName); err != nil {
					return "", fmt.Errorf("create schema: %w", err)
				}
				st.schemaCreated = true
				return "schema " + st.req.SchemaName + " created", nil
			},
		},
		{
			name: model.StepRunMigrations,
			run: func(ctx context.Context, st *runState) (string, error) {
				if err := o.schemas.RunMigrations(ctx, st.req.SchemaName); err != nil {
					return "", fmt.Errorf("run migrations: %w", err)
				}
				return "partition tables created", nil
			},
		},
		{
			name: model.StepSeedRolesAndUser,
			run: func(ctx context.Context, st *runState) (string, error) {
				// The admin starts with a random temporary password; the reset
				// flow in the tenant portal issues the real one.
				hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
				if err != nil {
					return "", fmt.Errorf("hash admin password: %w", err)
				}
				adminID, err := o.schemas.Seed(ctx, st.req.SchemaName,
					st.req.AdminEmail, st.req.AdminFirstName, st.req.AdminLastName, string(hash))
				if err != nil {
					return "", fmt.Errorf("seed roles and admin user: %w", err)
				}
				st.adminUserID = adminID
				return "admin user " + strconv.FormatInt(adminID, 10), nil
			},
		},
		{
			name: model.StepDeployLedgerRecord,
			run: func(ctx context.Context, st *runState) (string, error) {
				contractID, err := o.ledger.Deploy(ctx, st.tenant.ID, st.req.Name)
				if err != nil {
					return "", fmt.Errorf("deploy ledger record: %w", err)
				}
				st.contractID = contractID
				return "contract " + contractID, nil
			},
		},
		{
			name: model.StepStoreLedgerReference,
			run: func(ctx context.Context, st *runState) (string, error) {
				if err := o.store.SetContractID(ctx, st.tenant.ID, st.contractID); err != nil {
					return "", fmt.Errorf("store ledger reference: %w", err)
				}
				st.tenant.SorobanContractID = &st.contractID
				return "contract " + st.contractID + " stored", nil
			},
		},
		{
			name: model.StepSendWelcomeEmail,
			run: func(ctx context.Context, st *runState) (string, error) {
				tenantURL := o.portalBaseURL + "/" + st.req.SchemaName
				if err := o.notifier.SendWelcome(ctx, st.req.Name, st.req.AdminEmail,
					st.tenant.AdminName(), tenantURL); err != nil {
					return "", fmt.Errorf("send welcome email: %w", err)
				}
				return "welcome email sent to " + st.req.AdminEmail, nil
			},
		},
	}
}

// fail records the failed step and enters the common failure path.
func (o *Orchestrator) fail(ctx context.Context, st *runState, failedStep model.ProvisioningStep,
	duration time.Duration, cause error) error {

	o.log.Error("Provisioning step failed",
		zap.String("tenant_name", st.req.Name),
		zap.String("schema_name", st.req.SchemaName),
		zap.String("step", string(failedStep)),
		zap.Error(cause))

	o.appendLog(ctx, st.tenantID(), failedStep, model.StepStatusFailed, "", cause.Error(), duration)
	return o.abort(ctx, st, cause)
}

// abort is the common failure path, entered exactly once per run. It marks the
// tenant FAILED with a truncated error, attempts a failure notification, rolls
// back the schema if one might exist, and always re-raises the original error.
func (o *Orchestrator) abort(ctx context.Context, st *runState, cause error) error {
	log := o.log.With(
		zap.String("tenant_name", st.req.Name),
		zap.String("schema_name", st.req.SchemaName))

	if st.tenant != nil {
		if err := o.store.MarkFailed(ctx, st.tenant.ID, Truncate(cause.Error(), model.ProvisioningErrorMaxLen)); err != nil {
			log.Error("Failed to mark tenant FAILED", zap.Error(err))
		}
		st.tenant.Status = model.TenantStatusFailed
	}

	// Best-effort failure notice; errors are swallowed inside the notifier.
	o.notifier.SendFailure(ctx, st.req.AdminEmail, st.req.Name, cause.Error())

	if st.schemaCreated {
		if err := o.schemas.DropSchema(ctx, st.req.SchemaName); err != nil {
			// Orphaned partition: flagged only by the FAILED tenant status and
			// this log line. Monitoring owns surfacing it.
			prometheus.RecordRollback(false)
			log.Error("Schema rollback failed, partition orphaned", zap.Error(err))
		} else {
			prometheus.RecordRollback(true)
			o.appendLog(ctx, st.tenantID(), model.StepCreateSchema, model.StepStatusRolledBack,
				"schema "+st.req.SchemaName+" dropped", "", 0)
			log.Info("Schema rolled back")
		}
	}

	prometheus.ProvisioningCompletedCounter.WithLabelValues("failed").Inc()
	return cause
}

// appendLog writes one audit row. Logging failures are discarded: the audit
// trail is best-effort and never aborts the step it describes.
func (o *Orchestrator) appendLog(ctx context.Context, tenantID uint, stepName model.ProvisioningStep,
	status model.StepStatus, result, errMsg string, duration time.Duration) {
	// No tenant row yet means nothing to key the entry by; skip persisting.
	if tenantID == 0 {
		return
	}
	entry := &model.ProvisioningLogEntry{
		TenantID:   tenantID,
		Step:       stepName,
		Status:     status,
		Result:     result,
		Error:      errMsg,
		DurationMs: duration.Milliseconds(),
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.log.Warn("Provisioning log append failed",
			zap.Uint("tenant_id", tenantID),
			zap.String("step", string(stepName)),
			zap.Error(err))
	}
}

// Truncate bounds a message to max bytes before persistence, cutting on a
// rune boundary so the stored message stays valid UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

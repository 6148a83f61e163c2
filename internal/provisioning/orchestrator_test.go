package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"provisioning-service/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory TenantStore.
type fakeStore struct {
	mu          sync.Mutex
	nextID      uint
	tenants     map[uint]*model.Tenant
	createErr   error
	activateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenants: make(map[uint]*model.Tenant)}
}

func (s *fakeStore) Create(_ context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	tenant.ID = s.nextID
	tenant.CreatedAt = time.Now()
	copied := *tenant
	s.tenants[tenant.ID] = &copied
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uint, status model.TenantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == model.TenantStatusActive && s.activateErr != nil {
		return s.activateErr
	}
	t, ok := s.tenants[id]
	if !ok {
		return errors.New("tenant not found")
	}
	t.Status = status
	return nil
}

func (s *fakeStore) SetContractID(_ context.Context, id uint, contractID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return errors.New("tenant not found")
	}
	t.SorobanContractID = &contractID
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id uint, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return errors.New("tenant not found")
	}
	t.Status = model.TenantStatusFailed
	t.ProvisioningError = message
	return nil
}

func (s *fakeStore) get(id uint) *model.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenants[id]
}

// fakeLog records appended entries; appendErr simulates audit-store outages.
type fakeLog struct {
	mu        sync.Mutex
	entries   []model.ProvisioningLogEntry
	appendErr error
}

func (l *fakeLog) Append(_ context.Context, entry *model.ProvisioningLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *fakeLog) byStatus(status model.StepStatus) []model.ProvisioningLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.ProvisioningLogEntry
	for _, e := range l.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// fakeSchemas tracks which partitions exist; failOn makes one operation fail.
type fakeSchemas struct {
	mu       sync.Mutex
	existing map[string]bool
	failOn   string // "create", "migrate", "seed"
	failErr  error
	drops    int
}

func newFakeSchemas() *fakeSchemas {
	return &fakeSchemas{existing: make(map[string]bool)}
}

func (f *fakeSchemas) CreateSchema(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "create" {
		return f.failErr
	}
	f.existing[name] = true
	return nil
}

func (f *fakeSchemas) DropSchema(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops++
	// Dropping an absent partition is not an error.
	delete(f.existing, name)
	return nil
}

func (f *fakeSchemas) RunMigrations(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "migrate" {
		return f.failErr
	}
	return nil
}

func (f *fakeSchemas) Seed(_ context.Context, name, email, first, last, hash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "seed" {
		return 0, f.failErr
	}
	if hash == "" {
		return 0, errors.New("empty password hash")
	}
	return 42, nil
}

func (f *fakeSchemas) exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[name]
}

// fakeLedger returns a fixed contract id or an error.
type fakeLedger struct {
	contractID string
	err        error
}

func (f *fakeLedger) Deploy(_ context.Context, tenantID uint, tenantName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.contractID, nil
}

// fakeNotifier records sends.
type fakeNotifier struct {
	mu         sync.Mutex
	welcomes   int
	failures   int
	welcomeErr error
	sent       chan struct{}
}

func (f *fakeNotifier) SendWelcome(_ context.Context, tenantName, adminEmail, adminName, tenantURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.welcomeErr != nil {
		return f.welcomeErr
	}
	f.welcomes++
	if f.sent != nil {
		close(f.sent)
		f.sent = nil
	}
	return nil
}

func (f *fakeNotifier) SendFailure(_ context.Context, adminEmail, tenantName, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.welcomes, f.failures
}

type fixture struct {
	store    *fakeStore
	audit    *fakeLog
	schemas  *fakeSchemas
	ledger   *fakeLedger
	notifier *fakeNotifier
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		audit:    &fakeLog{},
		schemas:  newFakeSchemas(),
		ledger:   &fakeLedger{contractID: "CCONTRACT123"},
		notifier: &fakeNotifier{},
	}
	f.orch = NewOrchestrator(f.store, f.audit, f.schemas, f.ledger, f.notifier,
		"https://portal.example.com", time.Minute, zap.NewNop())
	return f
}

func testRequest() Request {
	return Request{
		Name:           "Acme Health",
		SchemaName:     GenerateSchemaName("Acme Health"),
		AdminEmail:     "admin@acme.test",
		AdminFirstName: "A",
		AdminLastName:  "B",
	}
}

func TestProvisionHappyPath(t *testing.T) {
	f := newFixture(t)
	req := testRequest()

	tenant, err := f.orch.Provision(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, model.TenantStatusActive, tenant.Status)
	require.NotNil(t, tenant.SorobanContractID)
	require.Equal(t, "CCONTRACT123", *tenant.SorobanContractID)

	// Exactly 7 entries, all COMPLETED, in the fixed step order.
	require.Len(t, f.audit.entries, 7)
	for i, entry := range f.audit.entries {
		require.Equal(t, model.PipelineSteps[i], entry.Step)
		require.Equal(t, model.StepStatusCompleted, entry.Status)
		require.Equal(t, tenant.ID, entry.TenantID)
	}

	welcomes, failures := f.notifier.counts()
	require.Equal(t, 1, welcomes)
	require.Zero(t, failures)
	require.True(t, f.schemas.exists(req.SchemaName))

	stored := f.store.get(tenant.ID)
	require.Equal(t, model.TenantStatusActive, stored.Status)
}

func TestProvisionMigrationFailure(t *testing.T) {
	f := newFixture(t)
	f.schemas.failOn = "migrate"
	f.schemas.failErr = errors.New("relation already exists")
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "relation already exists")

	stored := f.store.get(1)
	require.NotNil(t, stored)
	require.Equal(t, model.TenantStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ProvisioningError)
	require.LessOrEqual(t, len(stored.ProvisioningError), model.ProvisioningErrorMaxLen)

	// Partition rolled back.
	require.False(t, f.schemas.exists(req.SchemaName))

	failed := f.audit.byStatus(model.StepStatusFailed)
	require.Len(t, failed, 1)
	require.Equal(t, model.StepRunMigrations, failed[0].Step)

	rolledBack := f.audit.byStatus(model.StepStatusRolledBack)
	require.Len(t, rolledBack, 1)

	// No welcome is sent; a failure notice is attempted exactly once.
	welcomes, failures := f.notifier.counts()
	require.Zero(t, welcomes)
	require.Equal(t, 1, failures)
}

func TestProvisionCreateSchemaFailureRollsBackNothing(t *testing.T) {
	f := newFixture(t)
	f.schemas.failOn = "create"
	f.schemas.failErr = errors.New("permission denied for database")
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)

	// Nothing was created, so nothing is dropped and no rollback marker appears.
	require.Zero(t, f.schemas.drops)
	require.Empty(t, f.audit.byStatus(model.StepStatusRolledBack))

	stored := f.store.get(1)
	require.Equal(t, model.TenantStatusFailed, stored.Status)
}

func TestProvisionLedgerFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.err = errors.New("soroban gateway timeout")
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)

	require.False(t, f.schemas.exists(req.SchemaName))
	stored := f.store.get(1)
	require.Equal(t, model.TenantStatusFailed, stored.Status)
	require.Nil(t, stored.SorobanContractID)

	failed := f.audit.byStatus(model.StepStatusFailed)
	require.Len(t, failed, 1)
	require.Equal(t, model.StepDeployLedgerRecord, failed[0].Step)
}

func TestProvisionWelcomeEmailFailureRollsBackSchema(t *testing.T) {
	// A welcome-email failure is a full pipeline failure: success means fully
	// onboarded, so even the already-provisioned partition is dropped.
	f := newFixture(t)
	f.notifier.welcomeErr = errors.New("mail gateway unavailable")
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)

	require.False(t, f.schemas.exists(req.SchemaName))
	stored := f.store.get(1)
	require.Equal(t, model.TenantStatusFailed, stored.Status)

	_, failures := f.notifier.counts()
	require.Equal(t, 1, failures)
}

func TestProvisionErrorTruncated(t *testing.T) {
	f := newFixture(t)
	f.schemas.failOn = "seed"
	f.schemas.failErr = errors.New(strings.Repeat("x", 2000))
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)

	stored := f.store.get(1)
	require.Len(t, stored.ProvisioningError, model.ProvisioningErrorMaxLen)
}

func TestProvisionTenantRecordFailureLogsNothing(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("duplicate key value violates unique constraint")
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)

	// No tenant id exists to key log entries by, so none are persisted.
	require.Empty(t, f.audit.entries)

	// The failure notice is still attempted: the request carries the address.
	_, failures := f.notifier.counts()
	require.Equal(t, 1, failures)
}

func TestProvisionAuditOutageDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.audit.appendErr = errors.New("audit store down")
	req := testRequest()

	tenant, err := f.orch.Provision(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, model.TenantStatusActive, tenant.Status)
}

func TestProvisionRejectsInvalidSchemaName(t *testing.T) {
	f := newFixture(t)
	req := testRequest()
	req.SchemaName = `acme"; DROP SCHEMA public`

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)
	require.Empty(t, f.audit.entries)
	require.Nil(t, f.store.get(1))
}

func TestDropSchemaIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.schemas.CreateSchema(context.Background(), "acme_health_1"))
	require.NoError(t, f.schemas.DropSchema(context.Background(), "acme_health_1"))
	// Second compensation run, e.g. from a manual cleanup, must not error.
	require.NoError(t, f.schemas.DropSchema(context.Background(), "acme_health_1"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 5))
	require.Equal(t, "abcde", Truncate("abcdefgh", 5))
	require.Equal(t, "", Truncate("", 5))
	require.Equal(t, fmt.Sprintf("%.500s", strings.Repeat("y", 600)),
		Truncate(strings.Repeat("y", 600), 500))
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	// A multibyte rune straddling the limit is dropped whole, never split.
	in := strings.Repeat("a", 499) + "é…"
	out := Truncate(in, 500)
	require.True(t, utf8.ValidString(out))
	require.Equal(t, strings.Repeat("a", 499), out)
	require.LessOrEqual(t, len(out), 500)

	// Entirely multibyte input stays valid at any limit.
	in = strings.Repeat("ü", 400)
	for _, max := range []int{499, 500, 501} {
		out = Truncate(in, max)
		require.True(t, utf8.ValidString(out), "max %d", max)
		require.LessOrEqual(t, len(out), max)
	}
}

func TestProvisionActivationFailure(t *testing.T) {
	// A failed ACTIVE status write aborts the run without forging a second
	// entry for a step that already completed.
	f := newFixture(t)
	f.store.activateErr = errors.New("connection reset by peer")
	req := testRequest()

	_, err := f.orch.Provision(context.Background(), req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "activate tenant")

	// All 7 steps keep their COMPLETED rows and no FAILED row is added.
	require.Empty(t, f.audit.byStatus(model.StepStatusFailed))
	completed := f.audit.byStatus(model.StepStatusCompleted)
	require.Len(t, completed, 7)

	// The common failure path still runs in full.
	stored := f.store.get(1)
	require.Equal(t, model.TenantStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ProvisioningError)
	require.False(t, f.schemas.exists(req.SchemaName))
	require.Len(t, f.audit.byStatus(model.StepStatusRolledBack), 1)

	_, failures := f.notifier.counts()
	require.Equal(t, 1, failures)
}

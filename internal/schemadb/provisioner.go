// Package schemadb creates and bootstraps per-tenant Postgres schemas over
// the control-plane connection.
package schemadb

import (
	"context"
	"fmt"

	"provisioning-service/internal/provisioning"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Provisioner implements provisioning.SchemaProvisioner with raw DDL.
type Provisioner struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewProvisioner returns a provisioner over the control-plane connection. The
// connection's role must own CREATE and DROP SCHEMA privileges.
func NewProvisioner(db *gorm.DB, log *zap.Logger) *Provisioner {
	return &Provisioner{db: db, log: log}
}

// guard re-validates the identifier before it is interpolated into DDL.
// Schema names are validated at request time too, but no string may reach
// schema-qualified SQL without passing the pattern check.
func guard(schemaName string) error {
	if !provisioning.ValidSchemaName(schemaName) {
		return fmt.Errorf("unsafe schema name %q", schemaName)
	}
	return nil
}

// CreateSchema creates the tenant's isolated partition.
func (p *Provisioner) CreateSchema(ctx context.Context, schemaName string) error {
	if err := guard(schemaName); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Exec(fmt.Sprintf(`CREATE SCHEMA %q`, schemaName)).Error
}

// DropSchema removes the partition and everything in it. Idempotent: dropping
// an absent partition succeeds, so the rollback compensation can run twice.
func (p *Provisioner) DropSchema(ctx context.Context, schemaName string) error {
	if err := guard(schemaName); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schemaName)).Error
}

// RunMigrations creates the partition-local tables.
func (p *Provisioner) RunMigrations(ctx context.Context, schemaName string) error {
	if err := guard(schemaName); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE %q.roles (
			id SERIAL PRIMARY KEY,
			name VARCHAR(50) NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schemaName),
		fmt.Sprintf(`CREATE TABLE %q.users (
			id SERIAL PRIMARY KEY,
			email VARCHAR(100) NOT NULL UNIQUE,
			first_name VARCHAR(100),
			last_name VARCHAR(100),
			password_hash VARCHAR(255) NOT NULL,
			role_id INTEGER NOT NULL REFERENCES %q.roles(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schemaName, schemaName),
		fmt.Sprintf(`CREATE TABLE %q.audit_log (
			id BIGSERIAL PRIMARY KEY,
			actor_id INTEGER REFERENCES %q.users(id),
			action VARCHAR(100) NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schemaName, schemaName),
	}

	for _, stmt := range statements {
		if err := p.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	p.log.Debug("Partition tables created", zap.String("schema", schemaName))
	return nil
}

// defaultRoles seeded into every new partition; the admin user gets "admin".
var defaultRoles = []struct {
	name        string
	description string
}{
	{"admin", "Full access to the tenant workspace"},
	{"clinician", "Read and write clinical records"},
	{"staff", "Read-only access"},
}

// Seed inserts the default roles and the admin user, returning the admin
// user id.
func (p *Provisioner) Seed(ctx context.Context, schemaName, adminEmail, firstName, lastName, passwordHash string) (int64, error) {
	if err := guard(schemaName); err != nil {
		return 0, err
	}

	db := p.db.WithContext(ctx)
	for _, role := range defaultRoles {
		err := db.Exec(fmt.Sprintf(`INSERT INTO %q.roles (name, description) VALUES (?, ?)`, schemaName),
			role.name, role.description).Error
		if err != nil {
			return 0, fmt.Errorf("seed role %s: %w", role.name, err)
		}
	}

	var adminID int64
	row := db.Raw(fmt.Sprintf(`INSERT INTO %q.users (email, first_name, last_name, password_hash, role_id)
		SELECT ?, ?, ?, ?, id FROM %q.roles WHERE name = 'admin'
		RETURNING id`, schemaName, schemaName),
		adminEmail, firstName, lastName, passwordHash).Row()
	if err := row.Scan(&adminID); err != nil {
		return 0, fmt.Errorf("seed admin user: %w", err)
	}

	p.log.Debug("Partition seeded",
		zap.String("schema", schemaName),
		zap.Int64("admin_user_id", adminID))
	return adminID, nil
}

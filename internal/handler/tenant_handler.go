package handler

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"provisioning-service/internal/model"
	"provisioning-service/internal/provisioning"
	"provisioning-service/internal/store"
	"provisioning-service/pkg/logger"
	"provisioning-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Enqueuer submits provisioning jobs.
type Enqueuer interface {
	Enqueue(req provisioning.Request) (string, error)
}

// TenantReader is the handler's view of the tenant store.
type TenantReader interface {
	Get(ctx context.Context, id uint) (*model.Tenant, error)
	List(ctx context.Context) ([]model.Tenant, error)
	Archive(ctx context.Context, id uint) error
}

// LogReader lists a tenant's provisioning log.
type LogReader interface {
	ListByTenant(ctx context.Context, tenantID uint) ([]model.ProvisioningLogEntry, error)
}

var (
	queue   Enqueuer
	tenants TenantReader
	logs    LogReader
)

// Init wires the handler package's collaborators.
func Init(q Enqueuer, t TenantReader, l LogReader) {
	queue = q
	tenants = t
	logs = l
}

// ProvisionTenant accepts a provisioning request, generates and validates the
// schema name, and enqueues the pipeline. The API never blocks waiting for
// the pipeline; status must be polled.
func ProvisionTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("enqueue")

	// Parse request
	var req struct {
		Name           string `json:"name"`
		AdminEmail     string `json:"admin_email"`
		AdminFirstName string `json:"admin_first_name"`
		AdminLastName  string `json:"admin_last_name"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse provisioning request", zap.Error(err))
		prometheus.RecordRequestError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if len(req.Name) < 3 || len(req.Name) > 100 {
		log.Error("Invalid tenant name", zap.String("name", req.Name))
		prometheus.RecordRequestError("invalid_name")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name must be between 3 and 100 characters"})
	}

	if addr, err := mail.ParseAddress(req.AdminEmail); err != nil || addr.Address != req.AdminEmail {
		log.Error("Invalid admin email", zap.String("admin_email", req.AdminEmail))
		prometheus.RecordRequestError("invalid_email")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid admin email"})
	}

	// Generate and validate the schema name before any job exists; nothing
	// failing the pattern check may ever reach the schema provisioner.
	schemaName := provisioning.GenerateSchemaName(req.Name)
	if !provisioning.ValidSchemaName(schemaName) {
		log.Error("Generated schema name failed validation", zap.String("schema_name", schemaName))
		prometheus.RecordRequestError("invalid_schema_name")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant name cannot be converted to a schema name"})
	}

	jobID, err := queue.Enqueue(provisioning.Request{
		Name:           req.Name,
		SchemaName:     schemaName,
		AdminEmail:     req.AdminEmail,
		AdminFirstName: req.AdminFirstName,
		AdminLastName:  req.AdminLastName,
	})
	if err != nil {
		log.Error("Failed to enqueue provisioning job", zap.Error(err))
		if errors.Is(err, provisioning.ErrQueueClosed) {
			prometheus.RecordRequestError("queue_closed")
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service is shutting down, retry later"})
		}
		prometheus.RecordRequestError("queue_full")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "provisioning queue is full, retry later"})
	}

	log.Info("Provisioning job enqueued",
		zap.String("job_id", jobID),
		zap.String("tenant_name", req.Name),
		zap.String("schema_name", schemaName))

	return c.JSON(http.StatusAccepted, echo.Map{
		"message":     "provisioning started",
		"job_id":      jobID,
		"schema_name": schemaName,
	})
}

// GetTenantStatus returns the tenant's current status plus its full ordered
// provisioning log. Unknown ids yield 404 so callers can distinguish "never
// existed" from "not yet started".
func GetTenantStatus(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("status")

	id, err := parseTenantID(c)
	if err != nil {
		log.Error("Invalid tenant ID", zap.Error(err))
		prometheus.RecordRequestError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	tenant, err := tenants.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			prometheus.RecordRequestError("tenant_not_found")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
		}
		log.Error("Failed to load tenant", zap.Uint("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	entries, err := logs.ListByTenant(c.Request().Context(), id)
	if err != nil {
		log.Error("Failed to load provisioning log", zap.Uint("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	resp := echo.Map{
		"tenant_id":      tenant.ID,
		"tenant_name":    tenant.Name,
		"overall_status": tenant.Status,
		"logs":           entries,
		"created_at":     tenant.CreatedAt,
		"updated_at":     tenant.UpdatedAt,
	}
	if tenant.Status == model.TenantStatusActive {
		resp["completed_at"] = tenant.UpdatedAt
	}

	return c.JSON(http.StatusOK, resp)
}

// GetTenant returns the tenant summary.
func GetTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("get")

	id, err := parseTenantID(c)
	if err != nil {
		log.Error("Invalid tenant ID", zap.Error(err))
		prometheus.RecordRequestError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	tenant, err := tenants.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			prometheus.RecordRequestError("tenant_not_found")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
		}
		log.Error("Failed to load tenant", zap.Uint("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	return c.JSON(http.StatusOK, echo.Map{"tenant": tenant})
}

// ListTenants returns a summary of all tenants.
func ListTenants(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("list")

	all, err := tenants.List(c.Request().Context())
	if err != nil {
		log.Error("Failed to list tenants", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"tenants": all,
		"count":   len(all),
	})
}

// ArchiveTenant soft-archives the tenant. The data partition is never
// dropped: historical data must remain queryable.
func ArchiveTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("archive")

	id, err := parseTenantID(c)
	if err != nil {
		log.Error("Invalid tenant ID", zap.Error(err))
		prometheus.RecordRequestError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tenant ID"})
	}

	tenant, err := tenants.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			prometheus.RecordRequestError("tenant_not_found")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
		}
		log.Error("Failed to load tenant", zap.Uint("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	// In-flight runs cannot be cancelled; only settled tenants can archive.
	if tenant.Status != model.TenantStatusActive && tenant.Status != model.TenantStatusFailed {
		prometheus.RecordRequestError("tenant_not_archivable")
		return c.JSON(http.StatusConflict, echo.Map{"error": "tenant is still provisioning"})
	}

	startedAt := time.Now()
	if err := tenants.Archive(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			prometheus.RecordRequestError("tenant_not_found")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
		}
		log.Error("Failed to archive tenant", zap.Uint("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	log.Info("Tenant archived",
		zap.Uint("id", id),
		zap.String("name", tenant.Name),
		zap.Duration("took", time.Since(startedAt)))

	return c.JSON(http.StatusOK, echo.Map{"message": "tenant archived"})
}

func parseTenantID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

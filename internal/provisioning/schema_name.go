package provisioning

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// schemaNamePattern is the validation contract for tenant schema identifiers.
// Anything failing this check must never reach the schema provisioner, since
// schema names end up interpolated into schema-qualified DDL.
var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var multiUnderscore = regexp.MustCompile(`_+`)

// schemaSeq disambiguates schema names generated within the same second.
var schemaSeq uint64

// GenerateSchemaName derives a globally-unique, lowercase Postgres schema
// identifier from a tenant display name. Identical display names submitted
// concurrently still produce distinct identifiers, so no lock is needed on
// the schema namespace.
func GenerateSchemaName(displayName string) string {
	base := strings.ToLower(displayName)

	// Replace everything outside [a-z0-9] with underscores, then collapse and trim
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	base = multiUnderscore.ReplaceAllString(b.String(), "_")
	base = strings.Trim(base, "_")

	// Schema identifiers must start with a letter
	if base == "" || base[0] < 'a' || base[0] > 'z' {
		base = "tenant_" + base
		base = strings.TrimSuffix(base, "_")
	}

	seq := atomic.AddUint64(&schemaSeq, 1)
	return fmt.Sprintf("%s_%d%d", base, time.Now().Unix(), seq)
}

// ValidSchemaName reports whether name is safe to use in schema-qualified DDL.
func ValidSchemaName(name string) bool {
	return schemaNamePattern.MatchString(name)
}

package provisioning

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSchemaNameAlwaysValid(t *testing.T) {
	inputs := []string{
		"Acme Health",
		"acme",
		"",
		"   ",
		"123 Clinic",
		"___",
		"!!!@@@###",
		"Ärzte Zentrum Süd",
		"st. mary's--hospital",
		"ОООЗдоровье",
		"a",
		"9",
		"CLINIC-Nord (Berlin)",
	}

	for _, input := range inputs {
		name := GenerateSchemaName(input)
		require.NotEmpty(t, name, "input %q", input)
		require.True(t, ValidSchemaName(name), "input %q produced %q", input, name)
	}
}

func TestGenerateSchemaNameConcreteShape(t *testing.T) {
	name := GenerateSchemaName("Acme Health")
	require.Regexp(t, regexp.MustCompile(`^acme_health_\d+$`), name)
}

func TestGenerateSchemaNamePrefixesNonLetterStart(t *testing.T) {
	require.Regexp(t, `^tenant_123_clinic_\d+$`, GenerateSchemaName("123 Clinic"))
	require.Regexp(t, `^tenant_\d+$`, GenerateSchemaName("!!!"))
	require.Regexp(t, `^tenant_\d+$`, GenerateSchemaName(""))
}

func TestGenerateSchemaNameUniqueUnderCollision(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name := GenerateSchemaName("Acme Health")
		require.False(t, seen[name], "duplicate schema name %q", name)
		seen[name] = true
	}
}

func TestGenerateSchemaNameUniqueUnderConcurrency(t *testing.T) {
	const n = 50
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- GenerateSchemaName("Acme Health")
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		name := <-results
		require.False(t, seen[name], "duplicate schema name %q", name)
		seen[name] = true
	}
}

func TestValidSchemaName(t *testing.T) {
	valid := []string{"acme_health_1", "tenant_9", "_x", "a"}
	for _, name := range valid {
		require.True(t, ValidSchemaName(name), name)
	}

	invalid := []string{"", "9acme", "Acme", "acme health", `acme";drop`, "acme-health"}
	for _, name := range invalid {
		require.False(t, ValidSchemaName(name), name)
	}
}

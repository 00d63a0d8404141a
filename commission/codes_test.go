package commission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gearlink/commission-engine/commission"
)

// =============================================================================
// GENERATED CODES
// =============================================================================

func TestGenerateOrderCode_ShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := commission.GenerateOrderCode()
		assert.Len(t, code, 12)
		assert.True(t, commission.IsValidOrderCode(code), "code %q", code)
		assert.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}

func TestGenerateMechanicCode_ShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := commission.GenerateMechanicCode()
		assert.Len(t, code, 8)
		assert.True(t, commission.IsValidMechanicCode(code), "code %q", code)
		assert.False(t, seen[code], "duplicate code %q", code)
		seen[code] = true
	}
}

func TestCodeValidators_RejectWrongShape(t *testing.T) {
	assert.False(t, commission.IsValidOrderCode(""))
	assert.False(t, commission.IsValidOrderCode("short"))
	assert.False(t, commission.IsValidOrderCode("has spaces ok"))
	assert.False(t, commission.IsValidOrderCode("thirteenchars"))

	assert.False(t, commission.IsValidMechanicCode("lowercase"))
	assert.False(t, commission.IsValidMechanicCode("SHORT"))
	assert.True(t, commission.IsValidMechanicCode("AB12CD34"))
}

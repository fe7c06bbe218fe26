package namegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesValidName(t *testing.T) {
	name, err := Generate()
	require.NoError(t, err)
	assert.True(t, isValidName(name), "generated name %q should be valid", name)
}

func TestGenerateUniqueHasNumericSuffix(t *testing.T) {
	name, err := GenerateUnique()
	require.NoError(t, err)
	assert.Contains(t, name, "_")
}

func TestGeneratedNamesVary(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		name, err := Generate()
		require.NoError(t, err)
		seen[name] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "20 generated names should not all collapse to one")
}

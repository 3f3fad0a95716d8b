package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gridgrant/pkg/domain-errors"
)

func TestParsePermissionID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePermissionID("")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParsePermissionID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParsePermissionID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		u := uuid.New()
		id, err := ParsePermissionID(u.String())
		require.NoError(t, err)
		assert.Equal(t, PermissionID(u), id)
	})
}

func TestParseCountryCode(t *testing.T) {
	t.Run("uppercases and trims", func(t *testing.T) {
		c, err := ParseCountryCode(" fr ")
		require.NoError(t, err)
		assert.Equal(t, CountryCode("FR"), c)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseCountryCode("FRA")
		require.Error(t, err)
	})

	t.Run("rejects digits", func(t *testing.T) {
		_, err := ParseCountryCode("F1")
		require.Error(t, err)
	})
}

func TestParseOpaqueIDs_RejectBlank(t *testing.T) {
	_, err := ParseConnectionID("  ")
	assert.Error(t, err)
	_, err = ParseDataNeedID("")
	assert.Error(t, err)
	_, err = ParseMeteringPointID("\t")
	assert.Error(t, err)
}

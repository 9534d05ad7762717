package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleReferences(t *testing.T) {
	refs, err := RoleReferences{}.ResolveRole(t.Context(), "MERCHANT_ADMIN", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"role:MERCHANT_ADMIN"}, refs)
}

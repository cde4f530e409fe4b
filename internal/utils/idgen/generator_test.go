package idgen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureID(t *testing.T) {
	id, err := GenerateSecureID("conn", 16)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^conn_[0-9a-z]{16}$`), id)

	other, err := GenerateSecureID("conn", 16)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestServerIDHasNoColons(t *testing.T) {
	id, err := ServerID()
	require.NoError(t, err)
	assert.False(t, strings.Contains(id, ":"))
	assert.NotEmpty(t, id)
}

package objpath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	got, err := Validate("/D/Forest/Cave")
	require.NoError(t, err)
	assert.Equal(t, "/d/forest/cave", got)
}

func TestValidateRejectsEmpty(t *testing.T) {
	_, err := Validate("")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestValidateRejectsMissingSlash(t *testing.T) {
	_, err := Validate("players/p-1")
	assert.Equal(t, ErrMissingLeadingSlash, err)
}

func TestValidateRejectsTooLong(t *testing.T) {
	_, err := Validate("/" + strings.Repeat("a", 260))
	assert.Equal(t, ErrTooLong, err)
}

func TestValidateRejectsEmptySegment(t *testing.T) {
	_, err := Validate("/players//p-1")
	require.Error(t, err)
}

func TestValidateRejectsSegmentStartingWithDigit(t *testing.T) {
	_, err := Validate("/1players")
	require.Error(t, err)
}

func TestValidateIsIdempotent(t *testing.T) {
	once, err := Validate("/Players/P-1")
	require.NoError(t, err)
	twice, err := Validate(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestParentAndName(t *testing.T) {
	parent, ok := Parent("/players/p-1")
	require.True(t, ok)
	assert.Equal(t, "/players", parent)
	assert.Equal(t, "p-1", Name("/players/p-1"))

	_, ok = Parent("/players")
	assert.False(t, ok)
}

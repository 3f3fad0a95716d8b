package derrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_MatchesCodeThroughWrapping(t *testing.T) {
	err := New(CodePastState, "terminate already happened")
	wrapped := fmt.Errorf("service: %w", err)

	assert.True(t, Is(wrapped, CodePastState))
	assert.False(t, Is(wrapped, CodeFutureState))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeInternal, "save permission", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestCodeOf_UntypedDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

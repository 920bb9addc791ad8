package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, KindNotFound, KindOf(NotFound("user %d not found", 1)))
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
	require.Equal(t, KindConflict, KindOf(fmt.Errorf("context: %w", Conflict("dup"))))
	require.Equal(t, KindInternal, KindOf(nil))
}

func TestCauseOfAborted(t *testing.T) {
	err := Aborted(NotFound("user 7 not found"))
	require.Equal(t, KindTransactionAborted, KindOf(err))
	require.Equal(t, KindNotFound, Cause(err))
	require.True(t, Is(err, KindNotFound))
	require.True(t, Is(err, KindTransactionAborted))
	require.False(t, Is(err, KindConflict))

	require.Equal(t, KindInternal, Cause(Aborted(errors.New("connection reset"))))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindInternal, errors.New("boom"), "inserting chat")
	require.Equal(t, "inserting chat: boom", err.Error())
	require.Equal(t, "bad", BadRequest("bad").Error())
}

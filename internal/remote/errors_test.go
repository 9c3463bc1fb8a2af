package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	cause := errors.New("connection refused")

	fetchErr := Fetch(cause)
	assert.ErrorIs(t, fetchErr, ErrFetchFailed)
	assert.ErrorIs(t, fetchErr, cause)
	assert.NotErrorIs(t, fetchErr, ErrMutationFailed)
	assert.Equal(t, FetchFailed, KindOf(fetchErr))

	mutErr := fmt.Errorf("complete 3: %w", Mutation("update", cause))
	assert.ErrorIs(t, mutErr, ErrMutationFailed)
	assert.Equal(t, MutationFailed, KindOf(mutErr))
	assert.Contains(t, mutErr.Error(), "update: mutation failed: connection refused")

	streamErr := Disconnected(nil)
	assert.ErrorIs(t, streamErr, ErrStreamDisconnected)
	assert.Equal(t, "subscribe: stream disconnected", streamErr.Error())
}

func TestWrappersPassNil(t *testing.T) {
	assert.NoError(t, Fetch(nil))
	assert.NoError(t, Mutation("insert", nil))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

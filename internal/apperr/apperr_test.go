package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"specsync/api/internal/store"
)

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("push feature 001: %w", NotFound("spec"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindAccessDenied))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestTransientUnwrapsCause(t *testing.T) {
	err := Transient(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
}

func TestRateLimitedDetails(t *testing.T) {
	err := RateLimited(42)
	assert.Equal(t, map[string]any{"retryAfter": 42}, err.Details)
}

func TestFromStore(t *testing.T) {
	assert.Nil(t, FromStore(nil, "spec"))
	assert.Equal(t, KindNotFound, KindOf(FromStore(fmt.Errorf("get: %w", store.ErrNotFound), "spec")))
	assert.Equal(t, "spec not found", FromStore(store.ErrNotFound, "spec").(*Error).Message)
	assert.Equal(t, KindTransient, KindOf(FromStore(context.DeadlineExceeded, "spec")))

	denied := AccessDenied("no")
	assert.Same(t, denied, FromStore(denied, "spec"))

	plain := errors.New("boom")
	assert.Equal(t, plain, FromStore(plain, "spec"))
}

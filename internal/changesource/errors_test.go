package changesource

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindRateLimited, KindOf(NewError(KindRateLimited, "changes", nil)))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrapped: %w", NewError(KindNotFound, "fetch", nil))))
	assert.Equal(t, KindTransient, KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("page 2: %w", NewError(KindUnauthenticated, "changes", errors.New("401")))

	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.NotErrorIs(t, err, ErrTransient)
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindRateLimited, Op: "delta", RetryAfter: 3 * time.Second, Err: errors.New("429")}
	assert.Equal(t, "delta: rate_limited (retry after 3s): 429", err.Error())
}

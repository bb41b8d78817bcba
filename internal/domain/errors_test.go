package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := NewError(CodeStaleBase, "too old")
	assert.Equal(t, CodeStaleBase, CodeOf(err))

	wrapped := errors.Wrap(err, "submit failed")
	assert.Equal(t, CodeStaleBase, CodeOf(wrapped))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

func TestIsCode(t *testing.T) {
	err := WrapError(CodeStoreUnavailable, "persist failed", errors.New("connection refused"))
	assert.True(t, IsCode(err, CodeStoreUnavailable))
	assert.False(t, IsCode(err, CodeStaleBase))
	assert.False(t, IsCode(nil, CodeInternal))
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(CodeInternal, "wrapped", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "wrapped")
	assert.Contains(t, err.Error(), "boom")
}

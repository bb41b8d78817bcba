package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/domain"
)

func op(version int64, t domain.OperationType, pos int, content string, length int) *domain.Operation {
	return &domain.Operation{
		Type:     t,
		Position: pos,
		Content:  content,
		Length:   length,
		Author:   "alice",
		Version:  version,
	}
}

func TestAppendAssignsText(t *testing.T) {
	h := New("doc-1", 0)
	require.Equal(t, int64(0), h.CurrentVersion())

	require.NoError(t, h.Append(op(1, domain.OpInsert, 0, "hello", 0)))
	require.NoError(t, h.Append(op(2, domain.OpInsert, 5, " world", 0)))
	require.NoError(t, h.Append(op(3, domain.OpDelete, 0, "", 6)))

	assert.Equal(t, int64(3), h.CurrentVersion())
	assert.Equal(t, "world", h.CurrentText())
	assert.Equal(t, 3, h.Len())
}

func TestAppendRejectsVersionGap(t *testing.T) {
	h := New("doc-1", 0)
	require.NoError(t, h.Append(op(1, domain.OpInsert, 0, "a", 0)))

	assert.Error(t, h.Append(op(3, domain.OpInsert, 1, "b", 0)))
	assert.Error(t, h.Append(op(1, domain.OpInsert, 1, "b", 0)))
	assert.Equal(t, int64(1), h.CurrentVersion())
}

func TestSince(t *testing.T) {
	h := New("doc-1", 0)
	for v := int64(1); v <= 5; v++ {
		require.NoError(t, h.Append(op(v, domain.OpInsert, 0, "x", 0)))
	}

	ops := h.Since(3)
	require.Len(t, ops, 2)
	assert.Equal(t, int64(4), ops[0].Version)
	assert.Equal(t, int64(5), ops[1].Version)

	assert.Nil(t, h.Since(5))
	assert.Len(t, h.Since(0), 5)
	assert.Len(t, h.Since(-10), 5)
}

func TestSeed(t *testing.T) {
	h := New("doc-1", 0)
	ops := []*domain.Operation{
		op(101, domain.OpInsert, 4, "!", 0),
		op(102, domain.OpInsert, 5, "?", 0),
	}
	require.NoError(t, h.Seed("base", 100, ops))

	assert.Equal(t, int64(102), h.CurrentVersion())
	assert.Equal(t, int64(100), h.Floor())
	assert.Equal(t, "base!?", h.CurrentText())
}

func TestSeedRejectsGap(t *testing.T) {
	h := New("doc-1", 0)
	err := h.Seed("base", 100, []*domain.Operation{
		op(101, domain.OpInsert, 0, "a", 0),
		op(103, domain.OpInsert, 0, "b", 0),
	})
	assert.Error(t, err)
}

func TestTransformAgainstNew(t *testing.T) {
	h := New("doc-1", 0)
	require.NoError(t, h.Append(op(1, domain.OpInsert, 0, "abc", 0)))
	require.NoError(t, h.Append(op(2, domain.OpInsert, 0, "xy", 0)))

	// Created against v1 ("abc"), folded past v2's insert at 0.
	in := op(0, domain.OpInsert, 1, "Q", 0)
	run, err := h.TransformAgainstNew(in, 1)
	require.NoError(t, err)
	require.Len(t, run, 1)
	assert.Equal(t, 3, run[0].Position)

	// Against the current version nothing moves.
	run, err = h.TransformAgainstNew(in, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, run[0].Position)
}

func TestTransformAgainstNewStaleBase(t *testing.T) {
	h := New("doc-1", 0)
	require.NoError(t, h.Seed("snapshot", 500, nil))

	_, err := h.TransformAgainstNew(op(0, domain.OpInsert, 0, "x", 0), 100)
	assert.True(t, domain.IsCode(err, domain.CodeStaleBase))

	_, err = h.TransformAgainstNew(op(0, domain.OpInsert, 0, "x", 0), 501)
	assert.True(t, domain.IsCode(err, domain.CodeInvalidPosition))
}

func TestTransformAgainstNewSplitsDeletes(t *testing.T) {
	h := New("doc-1", 0)
	require.NoError(t, h.Append(op(1, domain.OpInsert, 0, "abcdef", 0)))
	require.NoError(t, h.Append(op(2, domain.OpInsert, 3, "X", 0)))

	// A delete of "bcde" created at v1 straddles v2's insert.
	run, err := h.TransformAgainstNew(op(0, domain.OpDelete, 1, "", 4), 1)
	require.NoError(t, err)
	require.Len(t, run, 2)
	assert.Equal(t, 2, run[0].Length)
	assert.Equal(t, 2, run[1].Length)
}

func TestTextAt(t *testing.T) {
	h := New("doc-1", 0)
	require.NoError(t, h.Append(op(1, domain.OpInsert, 0, "ab", 0)))
	require.NoError(t, h.Append(op(2, domain.OpInsert, 2, "cd", 0)))

	text, err := h.TextAt(1)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)

	text, err = h.TextAt(0)
	require.NoError(t, err)
	assert.Equal(t, "", text)

	_, err = h.TextAt(3)
	assert.Error(t, err)
}

func TestTruncation(t *testing.T) {
	h := New("doc-1", 8)
	for v := int64(1); v <= 8; v++ {
		require.NoError(t, h.Append(op(v, domain.OpInsert, int(v-1), "x", 0)))
	}
	assert.False(t, h.NeedsTruncation())

	require.NoError(t, h.Append(op(9, domain.OpInsert, 8, "x", 0)))
	require.True(t, h.NeedsTruncation())
	assert.Equal(t, int64(2), h.TruncationTarget())

	require.NoError(t, h.TruncateTo(2))
	assert.Equal(t, int64(2), h.Floor())
	assert.Equal(t, int64(9), h.CurrentVersion())
	assert.Equal(t, 7, h.Len())
	assert.Equal(t, "xxxxxxxxx", h.CurrentText())

	// Operations below the new floor are gone; sync from it still works.
	assert.Len(t, h.Since(2), 7)
	_, err := h.TextAt(1)
	assert.Error(t, err)
	text, err := h.TextAt(2)
	require.NoError(t, err)
	assert.Equal(t, "xx", text)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		op       *Operation
		wantCode ErrorCode
	}{
		{"valid insert", &Operation{Type: OpInsert, Position: 0, Content: "x"}, ""},
		{"valid delete", &Operation{Type: OpDelete, Position: 2, Length: 3}, ""},
		{"valid retain", &Operation{Type: OpRetain}, ""},
		{"insert without content", &Operation{Type: OpInsert, Position: 0}, CodeInvalidType},
		{"insert with length", &Operation{Type: OpInsert, Content: "x", Length: 1}, CodeInvalidType},
		{"delete without length", &Operation{Type: OpDelete, Position: 0}, CodeInvalidType},
		{"delete with content", &Operation{Type: OpDelete, Length: 1, Content: "x"}, CodeInvalidType},
		{"unknown type", &Operation{Type: "replace"}, CodeInvalidType},
		{"negative position", &Operation{Type: OpInsert, Position: -1, Content: "x"}, CodeInvalidPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsCode(err, tt.wantCode))
			}
		})
	}
}

func TestContentLenCountsCodePoints(t *testing.T) {
	op := &Operation{Type: OpInsert, Content: "日本語"}
	assert.Equal(t, 3, op.ContentLen())
	assert.Equal(t, 0, (&Operation{Type: OpDelete, Length: 2}).ContentLen())
}

func TestCloneIsIndependent(t *testing.T) {
	op := &Operation{Type: OpInsert, Position: 1, Content: "x", Version: 3}
	c := op.Clone()
	c.Position = 9
	c.Version = 7
	assert.Equal(t, 1, op.Position)
	assert.Equal(t, int64(3), op.Version)

	var nilOp *Operation
	assert.Nil(t, nilOp.Clone())
}

func TestOperationPayloadBuildsOperation(t *testing.T) {
	p := &OperationPayload{OpType: OpDelete, Position: 4, Length: 2, BaseVersion: 9}
	op := p.Operation("alice")
	require.NotNil(t, op)
	assert.Equal(t, OpDelete, op.Type)
	assert.Equal(t, 4, op.Position)
	assert.Equal(t, 2, op.Length)
	assert.Equal(t, "alice", op.Author)
	assert.Zero(t, op.Version)
}

package domain

import (
	"math/rand"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var opIDNode *snowflake.Node

func init() {
	node, err := snowflake.NewNode(rand.Int63n(1024))
	if err != nil {
		panic(err)
	}
	opIDNode = node
}

// NewOperationID returns a unique, time-sortable operation id.
func NewOperationID() string {
	return opIDNode.Generate().String()
}

// NewSessionID returns a unique session id.
func NewSessionID() string {
	return uuid.NewString()
}

package id

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Every server instance sharing a database needs a distinct node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// IDs are time-ordered and unique across distributed instances.
func New() int64 {
	return node.Generate().Int64()
}

// Parse reads an ID from its decimal string form, as sent by browsers and the
// realtime wire protocol (int64 does not survive a JSON number round trip in JS).
func Parse(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing id %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("parsing id %q: must be positive", s)
	}
	return v, nil
}

// Format is the inverse of Parse.
func Format(v int64) string {
	return strconv.FormatInt(v, 10)
}

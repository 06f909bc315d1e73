package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// defaultNode is used when New is called before Init, e.g. from tests.
const defaultNode = 1

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
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
	// no-op once Init has run
	_ = Init(defaultNode)
	return node.Generate().Int64()
}

// Parse parses a base 10 id, e.g. from a query parameter.
func Parse(s string) (int64, error) {
	sf, err := snowflake.ParseString(s)
	if err != nil {
		return 0, err
	}
	return sf.Int64(), nil
}

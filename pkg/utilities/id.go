package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// Layout of generated ids: 41 bits of milliseconds since 2024-01-01, 4 node
// bits, 8 sequence bits. 53 bits total, so ids survive a round trip through a
// JavaScript number in the dashboard and the extension.
const (
	idEpochMillis = 1704067200000
	idNodeBits    = 4
	idStepBits    = 8
)

// NewID returns a snowflake ID for a new row. The node is created once per
// process from SNOWFLAKE_NODE (default 1, 0-15) so IDs issued in the same
// millisecond still differ by sequence.
func NewID() int64 {
	nodeOnce.Do(func() {
		snowflake.Epoch = idEpochMillis
		snowflake.NodeBits = idNodeBits
		snowflake.StepBits = idStepBits
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// out-of-range node id, fall back to node 1
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node.Generate().Int64()
}

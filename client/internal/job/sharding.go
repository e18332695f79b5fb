package job

import (
	"hash/fnv"
	"strconv"
)

// labelBuckets bounds the cardinality of the shard metric label.
const labelBuckets = 32

// ShardLabel maps a record id or namespace key to a stable metric label in
// [0, labelBuckets). It is independent of the executor's shard count.
func ShardLabel(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return strconv.FormatUint(uint64(h.Sum32()%labelBuckets), 10)
}

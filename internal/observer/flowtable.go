package observer

import (
	"hash/fnv"
	"net"
	"strconv"
	"sync"
	"time"

	"pathprobe/internal/model"
)

const defaultShardCount = 256

// shard is a part of the sharded flow table, containing its own map and
// mutex. Sharding keeps lock contention low when capture and flushing run
// concurrently.
type shard struct {
	flows map[string]*model.FlowContext
	mu    sync.Mutex
}

type flowTable struct {
	shards     []*shard
	shardCount uint32
}

func newFlowTable() *flowTable {
	t := &flowTable{
		shards:     make([]*shard, defaultShardCount),
		shardCount: defaultShardCount,
	}
	for i := range t.shards {
		t.shards[i] = &shard{flows: make(map[string]*model.FlowContext)}
	}
	return t
}

// getShard returns the shard responsible for a canonical key.
func (t *flowTable) getShard(key string) *shard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return t.shards[hasher.Sum32()%t.shardCount]
}

// count returns the number of flows currently tracked.
func (t *flowTable) count() int {
	total := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		total += len(sh.flows)
		sh.mu.Unlock()
	}
	return total
}

// evictIdle removes and returns every flow whose last packet is older than
// the cutoff. A zero timeout evicts everything.
func (t *flowTable) evictIdle(timeout time.Duration) []*model.FlowContext {
	var evicted []*model.FlowContext
	cutoff := time.Now().Add(-timeout)
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, fc := range sh.flows {
			if timeout == 0 || fc.Touched.Before(cutoff) {
				delete(sh.flows, key)
				evicted = append(evicted, fc)
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// canonicalKey builds a direction-independent table key so that forward
// and reverse packets of one flow land on the same context.
func canonicalKey(pkt *model.PacketInfo) string {
	a := endpoint(pkt.SrcIP, pkt.SrcPort)
	b := endpoint(pkt.DstIP, pkt.DstPort)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func endpoint(ip net.IP, port uint16) string {
	return ip.String() + ":" + strconv.Itoa(int(port))
}

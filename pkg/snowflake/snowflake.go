package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	Epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrNodeRange = errors.New("node number must be between 0 and 1023")

// Node hands out ids that increase strictly for the lifetime of the node,
// even when the wall clock steps backwards.
type Node struct {
	mu   sync.Mutex
	now  func() int64
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{
		now:  func() int64 { return time.Now().UnixMilli() },
		node: node,
	}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// Sequence exhausted for this millisecond.
			for now <= n.last {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}

	n.last = now
	return ((now - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time returns the creation time encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch).UTC()
}

// NodeOf returns the node number encoded in id.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}

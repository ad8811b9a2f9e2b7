// Package op is the C5 OP Engine: per-partition FIFO queues of OPData,
// a worker loop driving each queue's task_list through the Task
// Primitives layer (pkg/task), and the recovery/cancellation machinery
// that lets the coordinator resume in-flight OPs after a failover.
package op

import (
	"container/list"
	"sync"

	"github.com/cuemby/tablestore/pkg/types"
)

// queue is one FIFO task_vec[i] list. Its lock is distinct from the
// Engine's so different queues drain concurrently without contending
// on a shared mutex, matching the spec's "concurrency across queues is
// unbounded" requirement.
type queue struct {
	mu      sync.Mutex
	entries *list.List // of *types.OPData
	notify  chan struct{}
}

func newQueue() *queue {
	return &queue{entries: list.New(), notify: make(chan struct{}, 1)}
}

func (q *queue) push(op *types.OPData) {
	q.mu.Lock()
	q.entries.PushBack(op)
	q.mu.Unlock()
	q.wake()
}

// pushAfterParent inserts op immediately after the OP with id parentID,
// or at the back if parentID is zero or not found.
func (q *queue) pushAfterParent(op *types.OPData, parentID uint64) {
	q.mu.Lock()
	if parentID != 0 {
		for e := q.entries.Front(); e != nil; e = e.Next() {
			if e.Value.(*types.OPData).OpID == parentID {
				q.entries.InsertAfter(op, e)
				q.mu.Unlock()
				q.wake()
				return
			}
		}
	}
	q.entries.PushBack(op)
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) front() (*types.OPData, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entries.Front()
	if e == nil {
		return nil, false
	}
	return e.Value.(*types.OPData), true
}

func (q *queue) popFront() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.entries.Front(); e != nil {
		q.entries.Remove(e)
	}
}

func (q *queue) list() []*types.OPData {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.OPData, 0, q.entries.Len())
	for e := q.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*types.OPData))
	}
	return out
}

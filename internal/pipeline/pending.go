package pipeline

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
)

const (
	pendingLimit = 4096
	pendingTTL   = time.Hour
	pendingSweep = time.Minute
)

// pendingOp is a routed operation awaiting its outcome.
type pendingOp struct {
	shape     string
	providers []string
	lineage   learning.Lineage
	at        time.Time
}

func (op pendingOp) stale(now time.Time) bool {
	return now.Sub(op.at) >= pendingTTL
}

// pendingOps remembers routed operations until their outcome arrives or
// they go stale. Stale entries are swept at most once per pendingSweep and
// are never returned by take.
type pendingOps struct {
	mu        sync.Mutex
	ops       map[string]pendingOp
	lastSweep time.Time
}

func newPendingOps() *pendingOps {
	return &pendingOps{ops: make(map[string]pendingOp)}
}

// add stores op under id, replacing any earlier entry. Over pendingLimit
// the oldest entry is dropped.
func (p *pendingOps) add(id string, op pendingOp) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep(op.at)
	p.ops[id] = op
	if len(p.ops) > pendingLimit {
		p.dropOldest()
	}
}

// take removes and returns the operation.
func (p *pendingOps) take(id string, now time.Time) (pendingOp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweep(now)
	op, ok := p.ops[id]
	if !ok {
		return pendingOp{}, false
	}
	delete(p.ops, id)
	if op.stale(now) {
		return pendingOp{}, false
	}
	return op, true
}

func (p *pendingOps) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ops)
}

// sweep deletes stale entries. Caller holds p.mu.
func (p *pendingOps) sweep(now time.Time) {
	if now.Sub(p.lastSweep) < pendingSweep {
		return
	}
	p.lastSweep = now
	for id, op := range p.ops {
		if op.stale(now) {
			delete(p.ops, id)
		}
	}
}

// dropOldest deletes the entry routed first. Caller holds p.mu.
func (p *pendingOps) dropOldest() {
	var oldest string
	var at time.Time
	for id, op := range p.ops {
		if oldest == "" || op.at.Before(at) || (op.at.Equal(at) && id < oldest) {
			oldest, at = id, op.at
		}
	}
	delete(p.ops, oldest)
}

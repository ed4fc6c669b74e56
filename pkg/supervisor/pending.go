package supervisor

import (
	"sync"

	"github.com/plugforge/plugforge/pkg/protocol"
)

// outcome is what a pending entry eventually resolves to: a parsed response
// or a typed supervisor error, never both.
type outcome struct {
	resp *protocol.Response
	err  *Error
}

// pendingTable maps correlation ids to the one-shot sinks of awaiting
// callers. Entries are inserted before the request line is enqueued to the
// writer and removed on response, timeout, send failure, or stdout EOF.
// Nothing survives the reader observing EOF.
type pendingTable struct {
	mu sync.RWMutex
	m  map[uint64]chan outcome
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: make(map[uint64]chan outcome)}
}

// add registers a sink for id and returns it. The channel is buffered so
// the reader pump never blocks on delivery.
func (p *pendingTable) add(id uint64) chan outcome {
	ch := make(chan outcome, 1)
	p.mu.Lock()
	p.m[id] = ch
	p.mu.Unlock()
	return ch
}

// take removes and returns the sink for id. ok is false for orphan ids,
// typically a late response after the caller timed out.
func (p *pendingTable) take(id uint64) (chan outcome, bool) {
	p.mu.Lock()
	ch, ok := p.m[id]
	if ok {
		delete(p.m, id)
	}
	p.mu.Unlock()
	return ch, ok
}

// remove drops the entry for id if still present.
func (p *pendingTable) remove(id uint64) {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
}

// failAll drains the table, delivering err to every sink. Called by the
// reader pump when child stdout reaches EOF.
func (p *pendingTable) failAll(err *Error) int {
	p.mu.Lock()
	entries := p.m
	p.m = make(map[uint64]chan outcome)
	p.mu.Unlock()

	for _, ch := range entries {
		ch <- outcome{err: err}
	}
	return len(entries)
}

// size returns the current number of in-flight entries.
func (p *pendingTable) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

package supervisor

import (
	"testing"

	"github.com/plugforge/plugforge/pkg/protocol"
)

func TestPendingTable_TakeDelivers(t *testing.T) {
	p := newPendingTable()
	ch := p.add(1)
	if p.size() != 1 {
		t.Fatalf("size: got %d", p.size())
	}

	got, ok := p.take(1)
	if !ok || got != ch {
		t.Fatal("take should return the registered sink")
	}
	if p.size() != 0 {
		t.Errorf("size after take: got %d", p.size())
	}

	id := uint64(1)
	got <- outcome{resp: &protocol.Response{JSONRPC: protocol.Version, ID: &id}}
	out := <-ch
	if out.resp == nil || *out.resp.ID != 1 {
		t.Error("sink should carry the delivered response")
	}
}

func TestPendingTable_OrphanTake(t *testing.T) {
	p := newPendingTable()
	if _, ok := p.take(99); ok {
		t.Error("taking an unknown id must report absence")
	}
}

func TestPendingTable_RemoveMakesOrphan(t *testing.T) {
	p := newPendingTable()
	p.add(7)
	p.remove(7)
	if _, ok := p.take(7); ok {
		t.Error("removed entry should be gone")
	}
	// Removing twice is harmless.
	p.remove(7)
}

func TestPendingTable_FailAllDrains(t *testing.T) {
	p := newPendingTable()
	sinks := []chan outcome{p.add(1), p.add(2), p.add(3)}

	n := p.failAll(errCrashed())
	if n != 3 {
		t.Errorf("failAll: got %d", n)
	}
	if p.size() != 0 {
		t.Errorf("size after failAll: got %d", p.size())
	}
	for i, ch := range sinks {
		out := <-ch
		if out.err == nil || out.err.Kind != KindCrashed {
			t.Errorf("sink %d: got %+v", i, out)
		}
	}
}

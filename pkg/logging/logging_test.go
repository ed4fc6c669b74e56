package logging

import "testing"

func TestNew(t *testing.T) {
	for _, debug := range []bool{false, true} {
		log, err := New(debug)
		if err != nil {
			t.Fatalf("New(%v): %v", debug, err)
		}
		if debug && !log.Core().Enabled(-1) { // -1 = DebugLevel
			t.Error("debug logger should enable debug level")
		}
		if !debug && log.Core().Enabled(-1) {
			t.Error("production logger should not enable debug level")
		}
	}
}

func TestNop(t *testing.T) {
	// Must be safe to use without configuration.
	Nop().Info("discarded")
}

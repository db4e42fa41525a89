// Package gate provides admission control for a resource that can serve
// exactly one job at a time.
package gate

import "sync/atomic"

// Gate admits at most one holder. A caller that is not admitted is rejected
// immediately; there is no waiting and no backlog.
type Gate struct {
	busy atomic.Bool
}

func New() *Gate {
	return &Gate{}
}

// TryAdmit claims the gate if it is free. The check and the claim are a single
// compare-and-swap, so of any number of concurrent callers on a free gate
// exactly one gets true.
func (g *Gate) TryAdmit() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the gate. It must be called exactly once for every TryAdmit
// that returned true. Releasing a gate that is not held panics, the same way
// unlocking an unlocked sync.Mutex is fatal.
func (g *Gate) Release() {
	if !g.busy.CompareAndSwap(true, false) {
		panic("gate: release of unheld gate")
	}
}

// Busy reports whether the gate is currently held. The value is a snapshot
// for status reporting and must not be used to decide admission.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}

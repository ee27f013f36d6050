package session

import (
	"sync"

	"github.com/aixgo-dev/datapilot/capability"
)

// AccessOp is a state access kind.
type AccessOp string

const (
	OpRead  AccessOp = "read"
	OpWrite AccessOp = "write"
)

// Access is one observed state access within a turn.
type Access struct {
	Seq        int      `json:"seq"`
	Capability string   `json:"capability"`
	Op         AccessOp `json:"op"`
	Key        string   `json:"key"`
}

// Tracker records the state keys read and written during one turn. Sequence
// numbers are assigned in commit order across all capabilities of the turn.
type Tracker struct {
	state capability.StateView

	mu       sync.Mutex
	seq      int
	accesses []Access
}

// NewTracker wraps state for one turn.
func NewTracker(state capability.StateView) *Tracker {
	return &Tracker{state: state}
}

// View returns a StateView that attributes accesses to the named capability.
func (t *Tracker) View(name string) capability.StateView {
	return &trackedView{tracker: t, name: name}
}

// Accesses returns the recorded accesses in sequence order.
func (t *Tracker) Accesses() []Access {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Access, len(t.accesses))
	copy(out, t.accesses)
	return out
}

// For returns the accesses made by one capability.
func (t *Tracker) For(name string) (reads, writes []string) {
	for _, a := range t.Accesses() {
		if a.Capability != name {
			continue
		}
		if a.Op == OpRead {
			reads = append(reads, a.Key)
		} else {
			writes = append(writes, a.Key)
		}
	}
	return reads, writes
}

// record runs fn and logs the access under the same lock so the sequence
// matches the order in which the store observed it.
func (t *Tracker) record(name string, op AccessOp, key string, fn func() bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !fn() {
		return
	}
	t.seq++
	t.accesses = append(t.accesses, Access{Seq: t.seq, Capability: name, Op: op, Key: key})
}

type trackedView struct {
	tracker *Tracker
	name    string
}

func (v *trackedView) Get(key string) (any, bool) {
	var (
		val any
		ok  bool
	)
	v.tracker.record(v.name, OpRead, key, func() bool {
		val, ok = v.tracker.state.Get(key)
		return ok
	})
	return val, ok
}

func (v *trackedView) Require(key string) (any, error) {
	val, ok := v.Get(key)
	if !ok {
		return nil, &capability.MissingStateError{Key: key, Consumer: v.name}
	}
	return val, nil
}

func (v *trackedView) Set(key string, value any) {
	v.tracker.record(v.name, OpWrite, key, func() bool {
		v.tracker.state.Set(key, value)
		return true
	})
}

// Delete counts as a write.
func (v *trackedView) Delete(key string) {
	v.tracker.record(v.name, OpWrite, key, func() bool {
		v.tracker.state.Delete(key)
		return true
	})
}

// Has does not count as a read; it only probes presence.
func (v *trackedView) Has(key string) bool {
	return v.tracker.state.Has(key)
}

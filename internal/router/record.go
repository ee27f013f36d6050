package router

import (
	"time"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/pkg/session"
)

// InvocationRecord describes one capability invocation of a turn.
type InvocationRecord struct {
	Step       int                `json:"step"`
	Capability string             `json:"capability"`
	Question   string             `json:"question"`
	Result     *capability.Result `json:"result,omitempty"`
	// Reads and Writes are the state accesses of the capability, with
	// sequence numbers in commit order across the whole turn.
	Reads       []session.Access `json:"reads,omitempty"`
	Writes      []session.Access `json:"writes,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Error       string           `json:"error,omitempty"`
	Unavailable bool             `json:"unavailable,omitempty"`

	err error
}

// Err returns the invocation error, if any.
func (r *InvocationRecord) Err() error { return r.err }

func (r *InvocationRecord) started() bool { return r.Capability != "" }

func attachAccesses(records []InvocationRecord, accesses []session.Access) {
	for i := range records {
		for _, a := range accesses {
			if a.Capability != records[i].Capability {
				continue
			}
			if a.Op == session.OpRead {
				records[i].Reads = append(records[i].Reads, a)
			} else {
				records[i].Writes = append(records[i].Writes, a)
			}
		}
	}
}

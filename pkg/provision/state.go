// pkg/provision/state.go

package provision

import (
	cerr "github.com/cockroachdb/errors"
)

// State is a run state.
type State string

const (
	StateInit          State = "init"
	StateChecking      State = "checking"
	StateInstalling    State = "installing"
	StateConfiguring   State = "configuring"
	StateOrchestrating State = "orchestrating"
	StateVerifying     State = "verifying"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// transitions lists the legal successors of each state. Failed is reachable
// from every phase that can raise a fatal error; Verifying never fails.
var transitions = map[State][]State{
	StateInit:          {StateChecking, StateVerifying},
	StateChecking:      {StateInstalling, StateDone, StateFailed},
	StateInstalling:    {StateConfiguring, StateFailed},
	StateConfiguring:   {StateOrchestrating, StateFailed},
	StateOrchestrating: {StateVerifying, StateFailed},
	StateVerifying:     {StateDone},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether to may follow s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !from.CanTransition(to) {
		return cerr.AssertionFailedf("illegal state transition %s -> %s", from, to)
	}
	return nil
}

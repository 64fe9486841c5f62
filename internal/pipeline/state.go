package pipeline

import (
	"github.com/rotisserie/eris"
)

// State is a stage of a run. A run moves through its flow in order and
// never skips or revisits a state.
type State string

const (
	StateInit        State = "init"
	StateLoaded      State = "loaded"
	StateMatched     State = "matched"
	StateMerged      State = "merged"
	StateGeocoded    State = "geocoded"
	StatePartitioned State = "partitioned"
	StateWritten     State = "written"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var (
	// runFlow is the full reconcile-and-geocode run.
	runFlow = []State{
		StateInit, StateLoaded, StateMatched, StateMerged,
		StateGeocoded, StatePartitioned, StateWritten, StateDone,
	}
	// layersFlow rebuilds layer files from the master alone.
	layersFlow = []State{StateInit, StateLoaded, StatePartitioned, StateWritten, StateDone}
)

// machine enforces a flow.
type machine struct {
	flow []State
	pos  int
}

func newMachine(flow []State) *machine {
	return &machine{flow: flow}
}

func (m *machine) current() State {
	if m.pos < 0 {
		return StateFailed
	}
	return m.flow[m.pos]
}

// advance moves to the next state, which must be to.
func (m *machine) advance(to State) error {
	if m.pos < 0 || m.pos+1 >= len(m.flow) || m.flow[m.pos+1] != to {
		return eris.Errorf("pipeline: invalid transition %s -> %s", m.current(), to)
	}
	m.pos++
	return nil
}

func (m *machine) fail() {
	m.pos = -1
}

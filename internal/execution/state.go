// Package execution drives a payout run one batch at a time.
//
// Run state is a plain value advanced by Transition. The cursor is the
// single source of truth: Idle before any run, an index into Batches while
// running, and len(Batches) once every batch has an outcome.
package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
	"github.com/stablecoinxyz/sbc-masspay/internal/receipt"
)

// Idle is the cursor value when no run exists.
const Idle = -1

// InterruptedReason is recorded on batches whose outcome was lost to a restart.
const InterruptedReason = "interrupted"

var (
	// ErrRunInProgress rejects a submission while another run is active.
	ErrRunInProgress = errors.New("run in progress")
	// ErrInvalidTransition means an event does not apply to the current state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Phase is the coarse controller state derived from the cursor.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseDone    Phase = "done"
)

// State is the persisted run state.
type State struct {
	RunID      string                `json:"run_id,omitempty"`
	Owner      string                `json:"owner,omitempty"`
	Batches    []batch.TransferBatch `json:"batches"`
	Cursor     int                   `json:"cursor"`
	Receipt    string                `json:"receipt,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// NewState returns the Idle state.
func NewState() State {
	return State{Cursor: Idle}
}

func (s State) Phase() Phase {
	switch {
	case s.Cursor == Idle:
		return PhaseIdle
	case s.Cursor >= len(s.Batches):
		return PhaseDone
	default:
		return PhaseRunning
	}
}

// Clone returns a copy that shares no batch storage with s.
func (s State) Clone() State {
	out := s
	out.Batches = make([]batch.TransferBatch, len(s.Batches))
	copy(out.Batches, s.Batches)
	return out
}

// Counts returns how many batches sit in each status.
func (s State) Counts() map[batch.Status]int {
	out := map[batch.Status]int{}
	for _, b := range s.Batches {
		out[b.Status]++
	}
	return out
}

// Event is an input to Transition.
type Event interface{ event() }

// Started begins a run over freshly planned batches.
type Started struct {
	RunID   string
	Owner   string
	Batches []batch.TransferBatch
	At      time.Time
}

// Dispatched marks the batch at Index as handed to the gateway.
type Dispatched struct {
	Index int
}

// Outcome records the result of the batch at Index. A nil Err means Complete.
type Outcome struct {
	Index       int
	TxHash      string
	ExplorerURL string
	Err         error
	At          time.Time
}

// Interrupted resolves a run whose process died while Running.
type Interrupted struct {
	At time.Time
}

func (Started) event()     {}
func (Dispatched) event()  {}
func (Outcome) event()     {}
func (Interrupted) event() {}

// Transition applies ev to s and returns the new state. s is not modified.
func Transition(s State, ev Event) (State, error) {
	switch e := ev.(type) {
	case Started:
		if s.Phase() == PhaseRunning {
			return s, ErrRunInProgress
		}
		if len(e.Batches) == 0 {
			return s, fmt.Errorf("%w: start with no batches", ErrInvalidTransition)
		}
		next := State{
			RunID:     e.RunID,
			Owner:     e.Owner,
			Batches:   make([]batch.TransferBatch, len(e.Batches)),
			Cursor:    0,
			StartedAt: e.At,
		}
		copy(next.Batches, e.Batches)
		for i := range next.Batches {
			next.Batches[i].Status = batch.StatusNotStarted
			next.Batches[i].TxHash = ""
			next.Batches[i].ExplorerURL = ""
			next.Batches[i].Error = ""
		}
		return next, nil

	case Dispatched:
		if s.Phase() != PhaseRunning {
			return s, fmt.Errorf("%w: dispatch while %s", ErrInvalidTransition, s.Phase())
		}
		if e.Index != s.Cursor {
			return s, fmt.Errorf("%w: dispatch batch %d, cursor at %d", ErrInvalidTransition, e.Index, s.Cursor)
		}
		if s.Batches[e.Index].Status != batch.StatusNotStarted {
			return s, fmt.Errorf("%w: batch %d already %s", ErrInvalidTransition, e.Index, s.Batches[e.Index].Status)
		}
		next := s.Clone()
		next.Batches[e.Index].Status = batch.StatusPending
		return next, nil

	case Outcome:
		if s.Phase() != PhaseRunning {
			return s, fmt.Errorf("%w: outcome while %s", ErrInvalidTransition, s.Phase())
		}
		if e.Index != s.Cursor || s.Batches[e.Index].Status != batch.StatusPending {
			return s, fmt.Errorf("%w: outcome for batch %d, cursor at %d", ErrInvalidTransition, e.Index, s.Cursor)
		}
		next := s.Clone()
		b := &next.Batches[e.Index]
		if e.Err != nil {
			// A failed batch carries no hash. A reverted transaction is kept
			// in the error text only.
			b.Status = batch.StatusFailed
			b.Error = e.Err.Error()
			if e.TxHash != "" {
				b.Error += " (reverted tx " + e.TxHash + ")"
			}
		} else {
			b.Status = batch.StatusComplete
			b.TxHash = e.TxHash
			b.ExplorerURL = e.ExplorerURL
		}
		next.Cursor++
		return finish(next, e.At)

	case Interrupted:
		if s.Phase() != PhaseRunning {
			return s, fmt.Errorf("%w: interrupt while %s", ErrInvalidTransition, s.Phase())
		}
		next := s.Clone()
		for i := next.Cursor; i < len(next.Batches); i++ {
			next.Batches[i].Status = batch.StatusFailed
			next.Batches[i].Error = InterruptedReason
		}
		next.Cursor = len(next.Batches)
		return finish(next, e.At)
	}
	return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
}

// finish exports the receipt once the cursor has passed the last batch.
func finish(s State, at time.Time) (State, error) {
	if s.Phase() != PhaseDone {
		return s, nil
	}
	csv, err := receipt.Export(s.Batches)
	if err != nil {
		return s, err
	}
	s.Receipt = csv
	s.FinishedAt = at
	return s, nil
}

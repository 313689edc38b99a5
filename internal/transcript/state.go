package transcript

import (
	"fmt"
	"slices"
)

// State is the synchronizer's position in the history handshake.
type State string

const (
	Idle                   State = "IDLE"
	AwaitingInitialHistory State = "AWAITING_INITIAL_HISTORY"
	Ready                  State = "READY"
	LoadingMore            State = "LOADING_MORE"
	Exhausted              State = "EXHAUSTED"
	Empty                  State = "EMPTY"
)

// validTransitions lists allowed moves. Every non-idle state may fall back to
// AwaitingInitialHistory when the transport reconnects.
var validTransitions = map[State][]State{
	Idle:                   {AwaitingInitialHistory},
	AwaitingInitialHistory: {Empty, Ready, Exhausted},
	Ready:                  {LoadingMore, Exhausted, AwaitingInitialHistory},
	LoadingMore:            {Ready, Exhausted, AwaitingInitialHistory},
	Exhausted:              {AwaitingInitialHistory},
	Empty:                  {Ready, AwaitingInitialHistory},
}

func checkTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// Cursor is the {start, end} window of the next history page. End == 0 means
// there is nothing older to fetch.
type Cursor struct {
	Start int
	End   int
}

// Exhausted reports whether the cursor carries the no-more-history sentinel.
func (c Cursor) Exhausted() bool {
	return c.End == 0
}

func (c Cursor) advance(pageSize int) Cursor {
	return Cursor{Start: c.End, End: c.End + pageSize}
}

// Package history implements the per-room operation log with its undo/redo
// cursor and timestamp-based conflict insertion.
//
// The log is not safe for concurrent use; the session registry serializes all
// access through its single event goroutine.
package history

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"sketchroom/internal/domain"
)

// Log is one room's append-only operation history. The cursor (index) points
// at the last applied operation; -1 means the empty base state.
type Log struct {
	clock  clockwork.Clock
	policy domain.ConflictPolicy
	ops    []domain.Operation
	index  int
	seq    uint64
}

// New creates an empty log. Timestamps for operations that arrive without one
// are taken from clock.
func New(clock clockwork.Clock, policy domain.ConflictPolicy) *Log {
	return &Log{
		clock:  clock,
		policy: policy,
		index:  -1,
	}
}

// Record appends op as the new latest applied state. Any redo branch beyond
// the cursor is discarded first, so a record after an undo permanently drops
// the undone operations. Record always succeeds and returns the stored
// operation with its assigned id and timestamp.
func (l *Log) Record(op domain.Operation) domain.Operation {
	l.dropRedoBranch()
	op = l.stamp(op)
	l.ops = append(l.ops, op)
	l.index = len(l.ops) - 1
	return op
}

// Undo moves the cursor one step back. Returns the new effective state, or
// domain.ErrNothingToUndo when the cursor is already at the base state.
func (l *Log) Undo() ([]domain.Operation, error) {
	if l.index < 0 {
		return nil, domain.ErrNothingToUndo
	}
	l.index--
	return l.CurrentState(), nil
}

// Redo moves the cursor one step forward. Returns the new effective state, or
// domain.ErrNothingToRedo when the cursor is already at the tail.
func (l *Log) Redo() ([]domain.Operation, error) {
	if l.index >= len(l.ops)-1 {
		return nil, domain.ErrNothingToRedo
	}
	l.index++
	return l.CurrentState(), nil
}

// Clear unconditionally resets the log to empty with the cursor at -1.
func (l *Log) Clear() {
	l.ops = nil
	l.index = -1
}

// CurrentState returns the applied operations, ops[0..index]. The slice is a
// copy; an empty (non-nil) slice is returned at the base state.
func (l *Log) CurrentState() []domain.Operation {
	state := make([]domain.Operation, l.index+1)
	copy(state, l.ops[:l.index+1])
	return state
}

// Len returns the total number of stored operations, including any undone tail.
func (l *Log) Len() int { return len(l.ops) }

// Index returns the cursor position.
func (l *Log) Index() int { return l.index }

// Tail returns the last stored operation, or false for an empty log.
func (l *Log) Tail() (domain.Operation, bool) {
	if len(l.ops) == 0 {
		return domain.Operation{}, false
	}
	return l.ops[len(l.ops)-1], true
}

// ResolveConflict inserts op at the position of the first stored operation
// with a later timestamp, instead of appending at the tail. Equal timestamps
// are ordered by id, so repeated runs with the same inputs place operations
// deterministically. The cursor moves to the tail after insertion.
//
// Whether the undone tail survives the insert is the configured policy: with
// ConflictTruncate the redo branch is dropped first, exactly as Record does;
// with ConflictPreserve the insert goes into the full array and revives it.
// Returns the stored operation and its insertion position.
func (l *Log) ResolveConflict(op domain.Operation) (domain.Operation, int) {
	if l.policy == domain.ConflictTruncate {
		l.dropRedoBranch()
	}
	op = l.stamp(op)

	// First-match scan rather than binary search: recorded operations are not
	// guaranteed to be globally timestamp-sorted once client stamps mix in.
	at := len(l.ops)
	for i, existing := range l.ops {
		if existing.Timestamp > op.Timestamp ||
			(existing.Timestamp == op.Timestamp && existing.ID > op.ID) {
			at = i
			break
		}
	}

	l.ops = append(l.ops, domain.Operation{})
	copy(l.ops[at+1:], l.ops[at:])
	l.ops[at] = op
	l.index = len(l.ops) - 1
	return op, at
}

func (l *Log) dropRedoBranch() {
	if l.index < len(l.ops)-1 {
		l.ops = l.ops[:l.index+1]
	}
}

// stamp assigns the operation id and, when missing, the timestamp. Ids embed
// the timestamp and a per-log sequence as fixed-width hex, so lexicographic
// order equals generation order even for same-millisecond operations.
func (l *Log) stamp(op domain.Operation) domain.Operation {
	if op.Timestamp == 0 {
		op.Timestamp = l.clock.Now().UnixMilli()
	}
	l.seq++
	op.ID = fmt.Sprintf("%012x-%08x", op.Timestamp, l.seq)
	return op
}

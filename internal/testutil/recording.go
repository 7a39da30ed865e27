package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/tablesync/internal/command"
	"github.com/roach88/tablesync/internal/replication"
	"github.com/roach88/tablesync/internal/txlog"
)

// CallKind identifies a replication client call.
type CallKind string

const (
	CallSynchronize CallKind = "sync"
	CallBegin       CallKind = "begin"
	CallEnd         CallKind = "end"
)

// Call is one captured client call.
type Call struct {
	Kind     CallKind
	Command  command.Command
	Type     txlog.Type
	Rollback bool
}

// String renders the call on one line: sync calls as the command's
// canonical JSON, boundaries as "begin atomic" or "end rollback=true".
func (c Call) String() string {
	switch c.Kind {
	case CallSynchronize:
		data, err := command.EncodeJSON(c.Command)
		if err != nil {
			return fmt.Sprintf("sync <%v>", err)
		}
		return "sync " + string(data)
	case CallBegin:
		return "begin " + c.Type.String()
	default:
		return fmt.Sprintf("end rollback=%t", c.Rollback)
	}
}

// RecordingClient captures every call and forwards it to Next when set.
type RecordingClient struct {
	Next replication.Client

	mu    sync.Mutex
	calls []Call
}

var _ replication.Client = (*RecordingClient)(nil)

// NewRecordingClient records calls and forwards them to next (may be nil).
func NewRecordingClient(next replication.Client) *RecordingClient {
	return &RecordingClient{Next: next}
}

// Synchronize implements replication.Client.
func (r *RecordingClient) Synchronize(c command.Command) error {
	r.record(Call{Kind: CallSynchronize, Command: c})
	if r.Next == nil {
		return nil
	}
	return r.Next.Synchronize(c)
}

// BeginTransaction implements replication.Client.
func (r *RecordingClient) BeginTransaction(typ txlog.Type) error {
	r.record(Call{Kind: CallBegin, Type: typ})
	if r.Next == nil {
		return nil
	}
	return r.Next.BeginTransaction(typ)
}

// EndCurrentTransaction implements replication.Client.
func (r *RecordingClient) EndCurrentTransaction(rollback bool) error {
	r.record(Call{Kind: CallEnd, Rollback: rollback})
	if r.Next == nil {
		return nil
	}
	return r.Next.EndCurrentTransaction(rollback)
}

// Calls returns a copy of the captured calls.
func (r *RecordingClient) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Lines returns the captured calls rendered with Call.String.
func (r *RecordingClient) Lines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many calls of kind were captured.
func (r *RecordingClient) Count(kind CallKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Reset discards captured calls.
func (r *RecordingClient) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *RecordingClient) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Package interaction defines the closed set of interaction variants that
// make up an agent run's ledger, plus the wire codec that preserves variant
// tags across persistence boundaries.
package interaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags an interaction variant. The set is closed; decoding an unknown
// tag is an error, never a silent fallback.
type Kind string

const (
	KindToolCall       Kind = "tool_call"
	KindToolResult     Kind = "tool_result"
	KindAgentCall      Kind = "agent_call"
	KindAgentResult    Kind = "agent_result"
	KindTaskDefinition Kind = "task_definition"
	KindTaskResult     Kind = "task_result"
	KindTaskChain      Kind = "task_chain"
	KindAskHuman       Kind = "ask_human"
	KindHumanResponse  Kind = "human_response"
	KindAskOracle      Kind = "ask_oracle"
	KindOracleResponse Kind = "oracle_response"
	KindExternalInput  Kind = "external_input"
	KindWaiting        Kind = "waiting"
)

// ErrBound is returned when a record that already belongs to a branch is
// bound a second time.
var ErrBound = errors.New("interaction already bound to a branch")

// Payload is implemented by every interaction variant.
type Payload interface {
	Kind() Kind
}

// Record is one immutable ledger entry. The id and branch never change once
// the record is appended to a stack; only variant payload fields may be
// filled in afterwards by the stepping protocol.
type Record struct {
	id        string
	branch    string
	bound     bool
	createdAt time.Time
	payload   Payload
}

// New creates an unbound record wrapping the given payload.
func New(payload Payload) *Record {
	return &Record{
		id:        NewID(),
		createdAt: time.Now().UTC(),
		payload:   payload,
	}
}

// NewID generates a fresh interaction identifier.
func NewID() string {
	return "in_" + uuid.NewString()
}

// ID returns the globally unique interaction id.
func (r *Record) ID() string { return r.id }

// Branch returns the owning branch name, empty until the record is appended.
func (r *Record) Branch() string { return r.branch }

// Bound reports whether the record has been appended to a branch.
func (r *Record) Bound() bool { return r.bound }

// CreatedAt returns the record's creation timestamp.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// Kind returns the variant tag of the wrapped payload.
func (r *Record) Kind() Kind { return r.payload.Kind() }

// Payload returns the variant payload.
func (r *Record) Payload() Payload { return r.payload }

// Bind attaches the record to a branch. A record binds exactly once; the
// stack calls this during append.
func (r *Record) Bind(branch string) error {
	if r.bound {
		return fmt.Errorf("%w: %s is on %q", ErrBound, r.id, r.branch)
	}
	r.branch = branch
	r.bound = true
	return nil
}

// IsAsk reports whether the kind is a pure suspension point waiting on an
// external actor's response.
func IsAsk(kind Kind) bool {
	return kind == KindAskHuman || kind == KindAskOracle
}

// Suspends reports whether a branch whose frontier is this kind is halted
// until something external happens (actor response or condition heartbeat).
func Suspends(kind Kind) bool {
	return IsAsk(kind) || kind == KindWaiting || kind == KindAgentCall || kind == KindTaskChain
}

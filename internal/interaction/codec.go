package interaction

import (
	"encoding/json"
	"fmt"
	"time"
)

// payloadFactories is the static tag → constructor table. It is the single
// place a new variant must be registered; decoding rejects anything else.
var payloadFactories = map[Kind]func() Payload{
	KindToolCall:       func() Payload { return &ToolCall{} },
	KindToolResult:     func() Payload { return &ToolResult{} },
	KindAgentCall:      func() Payload { return &AgentCall{} },
	KindAgentResult:    func() Payload { return &AgentResult{} },
	KindTaskDefinition: func() Payload { return &TaskDefinition{} },
	KindTaskResult:     func() Payload { return &TaskResult{} },
	KindTaskChain:      func() Payload { return &TaskChain{} },
	KindAskHuman:       func() Payload { return &AskHuman{} },
	KindHumanResponse:  func() Payload { return &HumanResponse{} },
	KindAskOracle:      func() Payload { return &AskOracle{} },
	KindOracleResponse: func() Payload { return &OracleResponse{} },
	KindExternalInput:  func() Payload { return &ExternalInput{} },
	KindWaiting:        func() Payload { return &Waiting{} },
}

type recordDoc struct {
	ID        string          `json:"id"`
	Branch    string          `json:"branch,omitempty"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the record with its variant tag preserved.
func (r *Record) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", r.Kind(), err)
	}
	return json.Marshal(recordDoc{
		ID:        r.id,
		Branch:    r.branch,
		Kind:      r.Kind(),
		CreatedAt: r.createdAt,
		Payload:   payload,
	})
}

// UnmarshalJSON decodes a record into its canonical variant type. Untyped
// intermediate representations never leak past this boundary.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("interaction record missing id")
	}
	factory, ok := payloadFactories[doc.Kind]
	if !ok {
		return fmt.Errorf("unknown interaction kind %q", doc.Kind)
	}
	payload := factory()
	if len(doc.Payload) > 0 {
		if err := json.Unmarshal(doc.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", doc.Kind, err)
		}
	}
	r.id = doc.ID
	r.branch = doc.Branch
	r.bound = doc.Branch != ""
	r.createdAt = doc.CreatedAt
	r.payload = payload
	return nil
}

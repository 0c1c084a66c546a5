package feed

import (
	"encoding/json"
	"fmt"
)

// postAlias drops the MarshalJSON/UnmarshalJSON methods to avoid recursion.
type postAlias Post

type postEnvelope struct {
	*postAlias
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON writes the post with its payload under a "kind" discriminator.
// Only the local cache persists posts this way; remote records are decoded by
// the normalize package.
func (p Post) MarshalJSON() ([]byte, error) {
	env := postEnvelope{postAlias: (*postAlias)(&p), Kind: p.Kind()}
	if p.Payload != nil {
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON restores a post written by MarshalJSON.
func (p *Post) UnmarshalJSON(data []byte) error {
	env := postEnvelope{postAlias: (*postAlias)(p)}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload := NewPayload(env.Kind)
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
		}
	}
	p.Payload = payload
	return nil
}

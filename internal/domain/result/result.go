// Package result defines the cached result entry for completed runs.
package result

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// Entry associates a cache key with a previously observed terminal state.
// Entries are whole-value records: they are written and read as one JSON
// blob so concurrent readers never see a partial entry.
type Entry struct {
	Key       string          `json:"key"`
	State     run.State       `json:"state"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Expired reports whether the entry is past its expiration at the given
// instant. Entries without an expiration never expire.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Marshal encodes the entry as its wire/storage form.
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an entry from its wire/storage form.
func Unmarshal(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

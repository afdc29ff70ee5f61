// Package persistence stores versioned snapshots of agent runs so that an
// interrupted run can resume where it stopped.
//
// A Provider is a dumb keyed store partitioned by agent id. The Manager
// layers the run semantics on top: it allocates ids and versions, seals
// every record with a checksum, and verifies the checksum on every read.
// The latest checkpoint of an agent is the one with the highest version,
// whether or not it is a tombstone.
package persistence

import (
	"cmp"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeebo/blake3"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrProviderClosed indicates the provider has been closed.
	ErrProviderClosed = errors.New("checkpoint provider closed")

	// ErrCorruptCheckpoint is returned when a stored record fails its
	// checksum or cannot be decoded. It is fatal to the run.
	ErrCorruptCheckpoint = agerrors.Fatal(errors.New("corrupt checkpoint"))
)

// Checkpoint is the persisted snapshot of a run.
//
// A live checkpoint names the node path execution resumes at and the
// value delivered to it. A tombstone marks a run that finished cleanly and
// carries no node.
type Checkpoint struct {
	ID             string           `json:"checkpoint_id"`
	AgentID        string           `json:"agent_id"`
	CreatedAt      time.Time        `json:"created_at"`
	NodeID         string           `json:"node_id,omitempty"`
	PrevNodeID     string           `json:"prev_node_id,omitempty"`
	LastInput      json.RawMessage  `json:"last_input,omitempty"`
	MessageHistory []prompt.Message `json:"message_history"`
	Version        int64            `json:"version"`
	Tombstone      bool             `json:"tombstone"`
	Checksum       string           `json:"checksum,omitempty"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCheckpoint, err)
	}
	return &c, nil
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	if c.LastInput != nil {
		out.LastInput = append(json.RawMessage(nil), c.LastInput...)
	}
	out.MessageHistory = prompt.CloneMessages(c.MessageHistory)
	return &out
}

// DecodeInput unmarshals the stored input into v.
func (c *Checkpoint) DecodeInput(v any) error {
	if len(c.LastInput) == 0 {
		return nil
	}
	return json.Unmarshal(c.LastInput, v)
}

// Seal computes and stores the checksum.
func (c *Checkpoint) Seal() error {
	sum, err := c.digest()
	if err != nil {
		return err
	}
	c.Checksum = sum
	return nil
}

// Verify checks the stored checksum. Every versioned record is sealed when
// saved, so a missing checksum counts as corruption.
func (c *Checkpoint) Verify() error {
	if c.Checksum == "" {
		if c.Version > 0 {
			return fmt.Errorf("%w: %s: missing checksum", ErrCorruptCheckpoint, c.ID)
		}
		return nil
	}
	sum, err := c.digest()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptCheckpoint, c.ID, err)
	}
	if sum != c.Checksum {
		return fmt.Errorf("%w: %s: checksum mismatch", ErrCorruptCheckpoint, c.ID)
	}
	return nil
}

func (c *Checkpoint) digest() (string, error) {
	unsealed := *c
	unsealed.Checksum = ""
	b, err := json.Marshal(&unsealed)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// sortByVersion orders checkpoints by ascending version.
func sortByVersion(cps []*Checkpoint) {
	slices.SortFunc(cps, func(a, b *Checkpoint) int {
		return cmp.Compare(a.Version, b.Version)
	})
}

// Package aomsg defines the wire and persisted data model shared by every
// component: Process, Message, Evaluation, MemorySnapshot, Checkpoint, and
// Monitor (spec.md §3).
package aomsg

import (
	"fmt"
	"time"
)

// Tag is a name/value pair attached to a Process, Message, or Checkpoint.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Block identifies a block height/timestamp pair.
type Block struct {
	Height    int64 `json:"height"`
	Timestamp int64 `json:"timestamp"`
}

// Process is immutable once recorded.
type Process struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
	Data      string `json:"data"`
	Anchor    string `json:"anchor"`
	Tags      []Tag  `json:"tags"`
	Block     Block  `json:"block"`
}

// MessageBody is the inner "message" object carried by Message.
type MessageBody struct {
	ID            string `json:"id,omitempty"`
	Data          string `json:"data,omitempty"`
	Owner         string `json:"owner"`
	Target        string `json:"target"`
	Anchor        string `json:"anchor,omitempty"`
	From          string `json:"from"`
	ForwardedBy   string `json:"Forwarded-By,omitempty"`
	ForwardedFor  string `json:"Forwarded-For,omitempty"`
	Tags          []Tag  `json:"tags"`
}

// AoGlobal carries the ambient process/block context passed to the WASM
// process alongside each message.
type AoGlobal struct {
	Process Process `json:"process"`
	Block   Block   `json:"block"`
}

// Message is one unit of input to a process: a scheduled message, a cron
// message (Message.ID empty), or an assignment.
type Message struct {
	SortKey      string      `json:"sortKey"`
	DeepHash     string      `json:"deepHash,omitempty"`
	IsAssignment bool        `json:"isAssignment,omitempty"`
	IsCron       bool        `json:"isCron,omitempty"`
	Message      MessageBody `json:"message"`
	AoGlobal     AoGlobal    `json:"AoGlobal"`
}

// CronInterval returns the value of the "Cron-Interval" tag, or "" if
// absent, for use in the sortkey tie-break.
func (m Message) CronInterval() string {
	for _, t := range m.Message.Tags {
		if t.Name == "Cron-Interval" {
			return t.Value
		}
	}
	return ""
}

// Tag looks up a tag by name on the message body, returning ("", false) if
// not present.
func (m Message) Tag(name string) (string, bool) {
	for _, t := range m.Message.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// Validate re-checks the Message against the boundary schema described in
// spec.md §9 ("the final Message shape after hydration" must validate).
// It is intentionally conservative: it checks the invariants the rest of
// the pipeline actually depends on, not a full JSON-schema replica.
func (m Message) Validate() error {
	if m.SortKey == "" {
		return fmt.Errorf("message: missing sortKey")
	}
	if m.Message.Owner == "" {
		return fmt.Errorf("message %s: missing owner", m.SortKey)
	}
	if m.Message.Target == "" {
		return fmt.Errorf("message %s: missing target", m.SortKey)
	}
	if m.Message.From == "" {
		return fmt.Errorf("message %s: missing from", m.SortKey)
	}
	if !m.IsCron && m.Message.ID == "" && !m.IsAssignment {
		return fmt.Errorf("message %s: missing id on a non-cron, non-assignment message", m.SortKey)
	}
	return nil
}

// Output is a WASM evaluation's result.
type Output struct {
	Memory   []byte        `json:"Memory,omitempty"`
	Messages []Outbound    `json:"Messages,omitempty"`
	Spawns   []Outbound    `json:"Spawns,omitempty"`
	Output   string        `json:"Output,omitempty"`
	Error    string        `json:"Error,omitempty"`
}

// Outbound is a message or spawn emitted by a WASM evaluation, destined for
// the MU cranker.
type Outbound struct {
	ProcessID string      `json:"processId"`
	Target    string      `json:"target"`
	Anchor    string      `json:"anchor,omitempty"`
	Data      string      `json:"data,omitempty"`
	Tags      []Tag       `json:"tags"`
}

// Evaluation is the persisted record of folding one hydrated message into
// process memory. Primary key: (ProcessID, SortKey).
type Evaluation struct {
	SortKey     string    `json:"sortKey"`
	ProcessID   string    `json:"processId"`
	MessageID   string    `json:"messageId,omitempty"`
	Timestamp   int64     `json:"timestamp"`
	IsCron      bool      `json:"isCron,omitempty"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
	Output      Output    `json:"output"`
	DeepHash    string    `json:"deepHash,omitempty"`
}

// Evaluation carries no Cron-Interval of its own, so its IsLaterThan
// tie-break is taken from the originating Message, not the Evaluation.

// Checkpoint is the Arweave-visible publication of a MemorySnapshot.
type Checkpoint struct {
	ProcessID      string
	Module         string
	Epoch          int64
	Nonce          int64
	Timestamp      int64
	BlockHeight    int64
	SHA256         string
	CronInterval   string // optional
	ContentEncoding string // optional, "gzip" when memory is compressed
}

// Tags renders the bit-exact tag set required by spec.md §6.
func (c Checkpoint) Tags() []Tag {
	tags := []Tag{
		{Name: "Data-Protocol", Value: "ao"},
		{Name: "Variant", Value: "ao.TN.1"},
		{Name: "Type", Value: "Checkpoint"},
		{Name: "Module", Value: c.Module},
		{Name: "Process", Value: c.ProcessID},
		{Name: "Epoch", Value: fmt.Sprintf("%d", c.Epoch)},
		{Name: "Nonce", Value: fmt.Sprintf("%d", c.Nonce)},
		{Name: "Timestamp", Value: fmt.Sprintf("%d", c.Timestamp)},
		{Name: "Block-Height", Value: fmt.Sprintf("%d", c.BlockHeight)},
		{Name: "Content-Type", Value: "application/octet-stream"},
		{Name: "SHA-256", Value: c.SHA256},
	}
	if c.CronInterval != "" {
		tags = append(tags, Tag{Name: "Cron-Interval", Value: c.CronInterval})
	}
	if c.ContentEncoding != "" {
		tags = append(tags, Tag{Name: "Content-Encoding", Value: c.ContentEncoding})
	}
	return tags
}

// Monitor tracks one process being polled by the MU Monitor Loop.
type Monitor struct {
	ID              string `json:"id"` // processId
	Authorized      bool   `json:"authorized"`
	LastFromSortKey string `json:"lastFromSortKey,omitempty"`
	Interval        int64  `json:"interval"`
	Block           Block  `json:"block"`
	CreatedAt       time.Time `json:"createdAt"`
}

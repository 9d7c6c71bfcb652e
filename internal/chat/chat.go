// Package chat holds the in-memory representation of per-game chat
// threads. Messages are stored in the database with a per-game
// monotonic id; a thread is "complete" when it contains every message
// from id 1 onward, as opposed to a tail delivered incrementally.
package chat

import (
	"sort"

	"github.com/thisisrandy/igo/internal/game"
)

// Message is a single chat message. Timestamp is the server time, in
// unix seconds, when the message was received. ID is assigned by the
// database and is zero until then.
type Message struct {
	Timestamp float64    `json:"timestamp"`
	Color     game.Color `json:"color"`
	Message   string     `json:"message"`
	ID        int64      `json:"id"`
}

// Thread is an ordered list of messages.
type Thread struct {
	Messages   []Message `json:"thread"`
	IsComplete bool      `json:"isComplete"`
}

// NewThread returns an empty thread.
func NewThread(isComplete bool) *Thread {
	return &Thread{Messages: []Message{}, IsComplete: isComplete}
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	return len(t.Messages)
}

// GetAfter returns a thread consisting of all messages with an id
// strictly greater than afterID. As ids begin at 1, an afterID of 0
// returns the full thread.
func (t *Thread) GetAfter(afterID int64) *Thread {
	idx := sort.Search(len(t.Messages), func(i int) bool {
		return t.Messages[i].ID > afterID
	})
	after := t.Messages[idx:]
	return &Thread{
		Messages:   after,
		IsComplete: t.IsComplete && len(after) == len(t.Messages),
	}
}

// Append adds messages to the thread. They are assumed without
// validation to be sorted by id and to carry ids greater than the final
// message so far; violating that leaves GetAfter undefined.
func (t *Thread) Append(messages ...Message) {
	t.Messages = append(t.Messages, messages...)
}

// Extend appends another thread to the end of this one. See Append for
// caveats.
func (t *Thread) Extend(other *Thread) {
	t.Messages = append(t.Messages, other.Messages...)
}

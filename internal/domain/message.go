package domain

import (
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderTrainee is the person being coached.
	SenderTrainee Sender = "trainee"
	// SenderStakeholder is the simulated interview subject.
	SenderStakeholder Sender = "stakeholder"
	// SenderSystem marks host-generated notices.
	SenderSystem Sender = "system"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderTrainee, SenderStakeholder, SenderSystem:
		return true
	}
	return false
}

// Message is one entry of the append-only conversation log supplied by the host.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Newest returns the last message of history, or nil when history is empty.
func Newest(history []Message) *Message {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}

// RecentFrom returns the content of the last n messages authored by sender,
// oldest first.
func RecentFrom(history []Message, sender Sender, n int) []string {
	if n <= 0 {
		return nil
	}
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Sender == sender {
			out = append(out, history[i].Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

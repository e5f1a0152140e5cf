// Package bridge connects a chat host to its coaching session over a
// WebSocket: host actions arrive as JSON frames and session notifications
// are pushed back the same way.
package bridge

import (
	"errors"

	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/domain"
)

// Inbound frame types.
const (
	frameHistory       = "history"
	frameMessage       = "message"
	frameStage         = "stage"
	frameAcknowledge   = "acknowledge"
	frameAcceptRewrite = "accept_rewrite"
	frameAskSuggested  = "ask_suggested"
	framePing          = "ping"
)

// Outbound frame types.
const (
	frameState            = "state"
	frameAckState         = "ack_state"
	frameSuggestedRewrite = "suggested_rewrite"
	frameSubmitMessage    = "submit_message"
	frameSessionComplete  = "session_complete"
	frameError            = "error"
	framePong             = "pong"
)

// Error codes carried by error frames.
const (
	codeInvalidFrame  = "invalid_frame"
	codeUnknownType   = "unknown_type"
	codeInvalidSender = "invalid_sender"
	codeEmptyMessage  = "empty_message"
	codeRateLimited   = "rate_limited"
	codeInputLocked   = "input_locked"
	codeNotAwaiting   = "not_awaiting_acknowledgement"
	codeNoSuggestion  = "no_suggestion"
	codeSessionClosed = "session_closed"
	codeInternal      = "internal_error"
)

// inboundFrame is a host action.
type inboundFrame struct {
	Type     string           `json:"type"`
	Message  *domain.Message  `json:"message,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
	Stage    string           `json:"stage,omitempty"`
}

// outboundFrame is a session notification or a reply to a host action.
type outboundFrame struct {
	Type   string          `json:"type"`
	State  *coach.Snapshot `json:"state,omitempty"`
	Locked *bool           `json:"locked,omitempty"`
	Text   string          `json:"text,omitempty"`
	Error  string          `json:"error,omitempty"`
	Detail string          `json:"detail,omitempty"`
}

func errorFrame(code string, err error) outboundFrame {
	f := outboundFrame{Type: frameError, Error: code}
	if err != nil {
		f.Detail = err.Error()
	}
	return f
}

// errorCode maps session errors to frame error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, coach.ErrInputLocked):
		return codeInputLocked
	case errors.Is(err, coach.ErrNotAwaitingAcknowledgement):
		return codeNotAwaiting
	case errors.Is(err, coach.ErrNoSuggestion):
		return codeNoSuggestion
	case errors.Is(err, coach.ErrSessionClosed):
		return codeSessionClosed
	}
	return codeInternal
}

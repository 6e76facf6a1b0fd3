package session

import (
	"slices"

	"ragchat/pkg/types"
)

// Phase is the controller lifecycle phase.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
	PhaseGenerating    Phase = "generating"
	PhaseFailed        Phase = "failed"
)

// Status messages published with snapshots.
const (
	statusLoading = "loading model"
	statusStopped = "stopped"
	statusClosed  = "closed"
)

// state is owned by the controller loop. Every mutation replaces the
// messages slice so published snapshots stay immutable.
type state struct {
	phase    Phase
	messages []types.Message
	input    string
	preset   *types.GenerationPreset
	status   string
	version  uint64
}

func (s *state) snapshot() *types.SessionSnapshot {
	var preset *types.GenerationPreset
	if s.preset != nil {
		p := *s.preset
		preset = &p
	}
	return &types.SessionSnapshot{
		Phase:         string(s.phase),
		Messages:      s.messages,
		PendingInput:  s.input,
		ActivePreset:  preset,
		StatusMessage: s.status,
		Version:       s.version,
	}
}

// appendMessages returns a new slice; the old one stays valid for readers.
func (s *state) appendMessages(ms ...types.Message) {
	next := make([]types.Message, 0, len(s.messages)+len(ms))
	next = append(next, s.messages...)
	s.messages = append(next, ms...)
}

// updateMessage applies fn to a copy of the message with id.
func (s *state) updateMessage(id int64, fn func(*types.Message)) bool {
	i := slices.IndexFunc(s.messages, func(m types.Message) bool { return m.ID == id })
	if i < 0 {
		return false
	}
	next := slices.Clone(s.messages)
	fn(&next[i])
	s.messages = next
	return true
}

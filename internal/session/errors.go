package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every intent after Close.
	ErrClosed = errors.New("session: closed")
	// ErrBusy is returned by Send while a generation is running.
	ErrBusy = errors.New("session: generation in progress")
	// ErrEmptyPrompt is returned by Send when there is nothing to send.
	ErrEmptyPrompt = errors.New("session: empty prompt")
)

// notReadyError is returned by Send outside the ready phase.
type notReadyError struct{ phase Phase }

func (e notReadyError) Error() string { return fmt.Sprintf("session: not ready (phase %s)", e.phase) }

// IsNotReady reports whether err means the engine is not ready for input.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// IsBusy reports whether err means a generation is already running.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// UnknownPresetError is returned by SelectPreset for an unconfigured name.
type UnknownPresetError struct{ Name string }

func (e UnknownPresetError) Error() string { return "session: unknown preset: " + e.Name }

// IsUnknownPreset reports whether err names a preset that is not configured.
func IsUnknownPreset(err error) bool {
	var e UnknownPresetError
	return errors.As(err, &e)
}

package session

import (
	"errors"

	"node.town/voxroom/stt"
)

var (
	ErrCredential     = errors.New("credential request failed")
	ErrConnection     = errors.New("connection failed")
	ErrPublish        = errors.New("publish failed")
	ErrSpeechProvider = errors.New("speech recognition failed")
	ErrMicrophone     = errors.New("microphone update failed")

	ErrCapabilityUnavailable = stt.ErrCapabilityUnavailable

	ErrToggleInFlight = errors.New("voice mode toggle already in progress")
	ErrNoSession      = errors.New("no transport session")
	ErrVoiceInactive  = errors.New("voice mode is not active")
	ErrCanceled       = errors.New("connection attempt canceled")
	ErrClosed         = errors.New("controller closed")
)

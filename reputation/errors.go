package reputation

import "errors"

var (
	// ErrUnknownParticipant is returned when an event references a
	// participant with no Record.
	ErrUnknownParticipant = errors.New("reputation: unknown participant")
	// ErrHandshakeIneligible is returned by Bond when either side fails the
	// mutual-trust bonding requirements.
	ErrHandshakeIneligible = errors.New("reputation: handshake requirements not met")
)

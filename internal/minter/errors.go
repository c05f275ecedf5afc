package minter

import (
	"errors"

	"github.com/fruitsalade/blobfm/pkg/protocol"
)

var (
	// ErrPermissionDenied means the command is disabled by configuration.
	ErrPermissionDenied = errors.New("operation not permitted")
	// ErrCapabilityMint means the signer could not produce a capability.
	ErrCapabilityMint = errors.New("capability cannot be generated")
	// ErrResourceConflict means the directory to create already exists.
	ErrResourceConflict = errors.New("resource already exists")
	// ErrInvalidInput means a name argument is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrObjectTooLarge means an existing object is above the overwrite ceiling.
	ErrObjectTooLarge = errors.New("existing object exceeds the overwrite size limit")
	// ErrUnknownCommand means the command name is not recognized.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInternal covers store probe failures and recovered panics.
	ErrInternal = errors.New("internal error")
)

// inputError is an InvalidInput failure whose message is safe to show callers.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func (e *inputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(msg string) error {
	return &inputError{msg: msg}
}

// PublicMessage returns the text that may cross the trust boundary for err.
// Only invalid input and mint failures are described; everything else is
// reported as the generic error.
func PublicMessage(err error) string {
	var ie *inputError
	switch {
	case errors.As(err, &ie):
		return ie.msg
	case errors.Is(err, ErrCapabilityMint):
		return ErrCapabilityMint.Error()
	default:
		return protocol.GenericError
	}
}

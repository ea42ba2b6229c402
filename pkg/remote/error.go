package remote

import "fmt"

type Kind int

const (
	Serialization Kind = iota + 1
	RemoteExecution
	Protocol
)

func (k Kind) String() string {
	switch k {
	case Serialization:
		return "serialization"
	case RemoteExecution:
		return "remote execution"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the client. Sentinels below match
// any Error of the same Kind through errors.Is; a sentinel carrying a Message
// also requires the message to match.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e Error) Error() string {
	message := e.Message
	if message == "" {
		message = e.Kind.String() + " error"
	}
	if e.Err != nil {
		return message + ": " + e.Err.Error()
	}
	return message
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func NewError(kind Kind, message string) Error {
	return Error{
		Kind:    kind,
		Message: message,
	}
}

func errorf(kind Kind, cause error, format string, v ...any) Error {
	return Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, v...),
		Err:     cause,
	}
}

var SerializationError = Error{Kind: Serialization}
var RemoteExecutionError = Error{Kind: RemoteExecution}
var ProtocolError = Error{Kind: Protocol}
var UnknownTypeError = NewError(Protocol, "unknown proxy type")

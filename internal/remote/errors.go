package remote

import (
	"errors"
	"fmt"
)

type Kind int

const (
	FetchFailed Kind = iota + 1
	MutationFailed
	StreamDisconnected
)

func (k Kind) String() string {
	switch k {
	case FetchFailed:
		return "fetch failed"
	case MutationFailed:
		return "mutation failed"
	case StreamDisconnected:
		return "stream disconnected"
	default:
		return "unknown"
	}
}

var (
	ErrFetchFailed        = errors.New("fetch failed")
	ErrMutationFailed     = errors.New("mutation failed")
	ErrStreamDisconnected = errors.New("stream disconnected")
)

// Error classifies a failed remote operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrFetchFailed:
		return e.Kind == FetchFailed
	case ErrMutationFailed:
		return e.Kind == MutationFailed
	case ErrStreamDisconnected:
		return e.Kind == StreamDisconnected
	}
	return false
}

func Fetch(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: FetchFailed, Op: "fetch", Err: err}
}

func Mutation(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: MutationFailed, Op: op, Err: err}
}

func Disconnected(err error) error {
	return &Error{Kind: StreamDisconnected, Op: "subscribe", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

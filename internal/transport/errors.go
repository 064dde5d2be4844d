package transport

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed  = errors.New("transport: connection closed")
	ErrRefused = errors.New("transport: connection refused")
)

// Error records one failed transport operation. Kind is ErrClosed,
// ErrRefused, or nil for failures outside the transient set.
type Error struct {
	Op   string
	URL  string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("transport: ")
	b.WriteString(e.Op)
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(strings.TrimPrefix(e.Kind.Error(), "transport: "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether err is one of the transient transport kinds.
func Retryable(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrRefused)
}

// Reason returns a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrRefused):
		return "refused"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "fatal"
	}
}

func classify(op, url string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, URL: url, Kind: kindOf(err), Err: err}
}

func kindOf(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrRefused
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ErrClosed
	}
	switch {
	case errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED):
		return ErrClosed
	}
	return nil
}

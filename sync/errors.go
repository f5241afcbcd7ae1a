package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCSVNotFound         = errors.New("csv file not found")
	ErrUnsupportedEncoding = errors.New("unsupported csv encoding")
	ErrContainerNotFound   = errors.New("no such container")
	ErrRecordNotFound      = errors.New("record not found")
	// ErrAmbiguousMatch is returned when a lookup expected to be unique matched more than one record.
	ErrAmbiguousMatch = errors.New("ambiguous match")
)

// TransportError is a failure talking to Rally: a network error, an HTTP
// error status, an unparseable response or errors reported by the service
// in a query result. Unlike ErrRecordNotFound it aborts the run.
type TransportError struct {
	Op     string
	Errors []string // service reported errors, if any
	Err    error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if len(e.Errors) > 0 {
		sb.WriteString(fmt.Sprintf(": rally errors: %s", strings.Join(e.Errors, "; ")))
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err, or any error it wraps, is a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

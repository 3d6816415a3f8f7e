package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies why a source call failed.
type Kind int

const (
	// KindNotFound means the shop no longer has the requested page.
	KindNotFound Kind = iota + 1
	// KindTimeout covers timeouts and other transient transport failures.
	KindTimeout
	// KindParse means the page did not have the expected structure.
	KindParse
	// KindStatus is an unexpected HTTP status.
	KindStatus
	// KindNetwork is a transport failure that is not expected to go away on retry.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse error"
	case KindStatus:
		return "unexpected status"
	case KindNetwork:
		return "network error"
	}
	return "unknown"
}

// SourceError is returned by every Source method.
type SourceError struct {
	Kind Kind
	Site string
	URL  string
	// Detail names the element that failed to parse, or the HTTP status.
	Detail string
	Err    error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %s for %s", e.Site, e.Kind, e.URL)
	if e.Kind == KindParse {
		msg += ", maybe the website layout changed?"
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

func kindOf(err error) Kind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsNotFound reports whether err says the page is gone.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsTimeout reports whether err is worth one retry.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsParse reports whether err comes from an unexpected page layout.
func IsParse(err error) bool { return kindOf(err) == KindParse }

// transient reports whether a transport error is a timeout or a dropped connection.
func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

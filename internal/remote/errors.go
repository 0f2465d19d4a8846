package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies remote failures. The orchestrator only branches on Kind.
type Kind int

const (
	Generic Kind = iota
	InvalidCredentials
	TwoFactorRequired
	RateLimited
	NotFound
	AuthRequired
)

func (k Kind) String() string {
	switch k {
	case InvalidCredentials:
		return "invalid_credentials"
	case TwoFactorRequired:
		return "two_factor_required"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case AuthRequired:
		return "auth_required"
	default:
		return "generic"
	}
}

// Error implements error so a bare Kind can be an errors.Is target:
//
//	errors.Is(err, remote.RateLimited)
func (k Kind) Error() string { return "remote: " + k.String() }

// Error is a classified remote failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("remote")
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	b.WriteString(": " + e.Kind.String())
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// E builds a classified error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or Generic.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Generic
}

package session

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a session failure
type Kind int

const (
	KindNone Kind = iota
	KindConnect
	KindPassword
	KindUserName
	KindUnknown
	KindCoded
	KindDataFormat
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindPassword:
		return "password"
	case KindUserName:
		return "username"
	case KindUnknown:
		return "unknown"
	case KindCoded:
		return "coded"
	case KindDataFormat:
		return "data_format"
	default:
		return "none"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind
var (
	ErrConnect    = errors.New("cannot reach the network service")
	ErrPassword   = errors.New("wrong password")
	ErrUserName   = errors.New("user name does not exist")
	ErrUnknown    = errors.New("unrecognized server response")
	ErrCoded      = errors.New("server rejected the request")
	ErrDataFormat = errors.New("unexpected report format")
)

var kindSentinels = map[Kind]error{
	KindConnect:    ErrConnect,
	KindPassword:   ErrPassword,
	KindUserName:   ErrUserName,
	KindUnknown:    ErrUnknown,
	KindCoded:      ErrCoded,
	KindDataFormat: ErrDataFormat,
}

// Error is a classified session failure.
//
// Code is the server's error code for coded and password failures. Body holds
// the raw response when it could not be understood. Err is the underlying
// cause for connect and data format failures.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		if s, ok := kindSentinels[e.Kind]; ok {
			msg = s.Error()
		} else {
			msg = "session error"
		}
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && target == s
}

// KindOf returns the kind of the first *Error in err's chain, falling back
// to the bare sentinels, or KindNone
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindNone
}

// IsRetryable reports whether err should be presented as a transient failure
// worth retrying later
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnect, KindCoded, KindUnknown, KindDataFormat:
		return true
	default:
		return false
	}
}

// NeedsCredentials reports whether err asks the user to correct the account
// name or password
func NeedsCredentials(err error) bool {
	switch KindOf(err) {
	case KindPassword, KindUserName:
		return true
	default:
		return false
	}
}

// IsCancellation reports whether err is a context cancellation or deadline
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// failure converts err into the error a public operation returns. A done
// context wins over everything; classified errors pass through; anything
// else becomes a connect error.
func failure(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if IsCancellation(err) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: KindConnect, Err: err}
}

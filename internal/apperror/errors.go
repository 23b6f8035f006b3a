package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindStateMismatch        Kind = "state_mismatch"
	KindTokenExchangeFailure Kind = "token_exchange_failure"
	KindMissingCredential    Kind = "missing_credential"
	KindInsufficientScope    Kind = "insufficient_scope"
	KindMediaUnreachable     Kind = "media_unreachable"
	KindVendorPublishFailure Kind = "vendor_publish_failure"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindSchedulingTooSoon    Kind = "scheduling_too_soon"
	KindTooManyItems         Kind = "too_many_items"
	KindNotSupported         Kind = "not_supported"
	KindNotFound             Kind = "not_found"
	KindInvalid              Kind = "invalid"
)

// Sentinels for errors.Is checks. Any *Error with the same Kind matches.
var (
	ErrStateMismatch        = &Error{Kind: KindStateMismatch, Message: "state verification failed"}
	ErrTokenExchangeFailure = &Error{Kind: KindTokenExchangeFailure, Message: "token exchange failed"}
	ErrMissingCredential    = &Error{Kind: KindMissingCredential, Message: "account credentials unavailable"}
	ErrInsufficientScope    = &Error{Kind: KindInsufficientScope, Message: "insufficient permissions"}
	ErrMediaUnreachable     = &Error{Kind: KindMediaUnreachable, Message: "media is not reachable"}
	ErrVendorPublishFailure = &Error{Kind: KindVendorPublishFailure, Message: "platform publish failed"}
	ErrQuotaExceeded        = &Error{Kind: KindQuotaExceeded, Message: "quota exceeded"}
	ErrSchedulingTooSoon    = &Error{Kind: KindSchedulingTooSoon, Message: "scheduled time is too soon"}
	ErrTooManyItems         = &Error{Kind: KindTooManyItems, Message: "too many media items"}
	ErrNotSupported         = &Error{Kind: KindNotSupported, Message: "operation not supported"}
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalid              = &Error{Kind: KindInvalid, Message: "invalid request"}
)

type Error struct {
	Kind     Kind
	Platform string
	Message  string
	// Body is the raw vendor response, kept for diagnostics only.
	Body string
	Err  error
	// UpgradeRequired is set on quota errors raised for FREE-tier callers.
	UpgradeRequired bool
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Platform != "" {
		msg = e.Platform + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithPlatform returns a copy of e tagged with platform.
func (e *Error) WithPlatform(platform string) *Error {
	c := *e
	c.Platform = platform
	return &c
}

func (e *Error) WithBody(body string) *Error {
	c := *e
	c.Body = body
	return &c
}

// KindOf reports the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

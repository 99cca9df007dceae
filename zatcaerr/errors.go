// Package zatcaerr defines the error taxonomy callers branch on: each
// pipeline stage raises one of these kinds rather than an ad hoc wrapped
// string, so the CLI driver (and any other caller) can distinguish a
// misconfiguration from a network hiccup without parsing messages.
package zatcaerr

import (
	"errors"
	"fmt"
)

// Kind identifies which part of the pipeline raised an error.
type Kind string

const (
	KindConfig   Kind = "ConfigError"
	KindCrypto   Kind = "CryptoError"
	KindXML      Kind = "XmlError"
	KindNetwork  Kind = "NetworkError"
	KindHTTP     Kind = "HttpError"
	KindProtocol Kind = "ProtocolError"
	KindTimeout  Kind = "TimeoutError"
)

// Error is a typed, wrapped pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// StatusCode and Body are populated only for KindHTTP.
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Config(format string, args ...any) *Error  { return newf(KindConfig, nil, format, args...) }
func ConfigWrap(cause error, format string, args ...any) *Error {
	return newf(KindConfig, cause, format, args...)
}

func Crypto(format string, args ...any) *Error { return newf(KindCrypto, nil, format, args...) }
func CryptoWrap(cause error, format string, args ...any) *Error {
	return newf(KindCrypto, cause, format, args...)
}

func XML(format string, args ...any) *Error { return newf(KindXML, nil, format, args...) }
func XMLWrap(cause error, format string, args ...any) *Error {
	return newf(KindXML, cause, format, args...)
}

func Network(format string, args ...any) *Error { return newf(KindNetwork, nil, format, args...) }
func NetworkWrap(cause error, format string, args ...any) *Error {
	return newf(KindNetwork, cause, format, args...)
}

func HTTP(statusCode int, body string, format string, args ...any) *Error {
	e := newf(KindHTTP, nil, format, args...)
	e.StatusCode = statusCode
	e.Body = body
	return e
}

func Protocol(format string, args ...any) *Error { return newf(KindProtocol, nil, format, args...) }
func ProtocolWrap(cause error, format string, args ...any) *Error {
	return newf(KindProtocol, cause, format, args...)
}

func Timeout(format string, args ...any) *Error { return newf(KindTimeout, nil, format, args...) }
func TimeoutWrap(cause error, format string, args ...any) *Error {
	return newf(KindTimeout, cause, format, args...)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

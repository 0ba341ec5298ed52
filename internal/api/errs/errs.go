// Package errs provides types and support related to web error functionality.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// ErrCode represents an error code in the system.
type ErrCode struct {
	value int
}

// Value returns the integer value of the error code.
func (ec ErrCode) Value() int { return ec.value }

// String returns the string representation of the error code.
func (ec ErrCode) String() string { return codeNames[ec] }

// MarshalText implements the encoding.TextMarshaler interface.
func (ec ErrCode) MarshalText() ([]byte, error) { return []byte(ec.String()), nil }

// The set of error codes that will be used by the system.
var (
	OK                 = ErrCode{value: 0}
	Canceled           = ErrCode{value: 1}
	InvalidArgument    = ErrCode{value: 3}
	NotFound           = ErrCode{value: 5}
	PermissionDenied   = ErrCode{value: 7}
	FailedPrecondition = ErrCode{value: 9}
	Internal           = ErrCode{value: 13}
	Unavailable        = ErrCode{value: 14}
	Unauthenticated    = ErrCode{value: 16}
)

var codeNames = map[ErrCode]string{
	OK:                 "ok",
	Canceled:           "canceled",
	InvalidArgument:    "invalid_argument",
	NotFound:           "not_found",
	PermissionDenied:   "permission_denied",
	FailedPrecondition: "failed_precondition",
	Internal:           "internal",
	Unavailable:        "unavailable",
	Unauthenticated:    "unauthenticated",
}

var httpStatus = map[ErrCode]int{
	OK:                 http.StatusOK,
	Canceled:           http.StatusGatewayTimeout,
	InvalidArgument:    http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	PermissionDenied:   http.StatusForbidden,
	FailedPrecondition: http.StatusConflict,
	Internal:           http.StatusInternalServerError,
	Unavailable:        http.StatusServiceUnavailable,
	Unauthenticated:    http.StatusUnauthorized,
}

// Error represents an error in the system.
type Error struct {
	Code     ErrCode `json:"code"`
	Message  string  `json:"message"`
	FuncName string  `json:"-"`
	FileName string  `json:"-"`
}

// New constructs an error based on an app error.
func New(code ErrCode, err error) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Code:     code,
		Message:  err.Error(),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// Newf constructs an error based on a error message.
func Newf(code ErrCode, format string, v ...any) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, v...),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Encode implements the encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(e)
	return data, "application/json", err
}

// HTTPStatus implements the web package httpStatus interface so the
// web framework can use the correct http status.
func (e *Error) HTTPStatus() int { return httpStatus[e.Code] }

// Equal provides support for the go-cmp package and testing.
func (e *Error) Equal(e2 *Error) bool {
	return e.Code == e2.Code && e.Message == e2.Message
}

// IsError tests the concrete error is of the Error type.
func IsError(err error) bool {
	var er *Error
	return errors.As(err, &er)
}

// GetError returns a copy of the Error pointer.
func GetError(err error) *Error {
	var er *Error
	if !errors.As(err, &er) {
		return nil
	}
	return er
}

// FromDomain maps a session error onto the matching code.
func FromDomain(err error) *Error {
	if er := GetError(err); er != nil {
		return er
	}

	code := Internal
	switch discovery.KindOf(err) {
	case discovery.KindValidation:
		code = InvalidArgument
	case discovery.KindStateConflict:
		code = FailedPrecondition
	case discovery.KindUnauthorized:
		code = PermissionDenied
	case discovery.KindConnectivityLoss, discovery.KindAdapterTransient:
		code = Unavailable
	case discovery.KindAdapterPermanent:
		code = FailedPrecondition
	}

	pc, filename, line, _ := runtime.Caller(1)
	return &Error{
		Code:     code,
		Message:  err.Error(),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code string

const (
	CodeInvalidArgument   Code = "invalid_argument"
	CodeNotFound          Code = "not_found"
	CodeCapacityExceeded  Code = "capacity_exceeded"
	CodeLateJoinForbidden Code = "late_join_forbidden"
	CodeDuplicateAnswer   Code = "duplicate_answer"
	CodeSessionNotActive  Code = "session_not_active"
	CodeSessionEnded      Code = "session_ended"
	CodeAlreadyActive     Code = "already_active"
	CodeNotPaused         Code = "not_paused"
	CodeForbidden         Code = "forbidden"
	CodeQuestionClosed    Code = "question_closed"
	CodeQuizNotPublished  Code = "quiz_not_published"
	CodeInternal          Code = "internal"
)

var code2http = map[Code]int{
	CodeInvalidArgument:   http.StatusBadRequest,
	CodeNotFound:          http.StatusNotFound,
	CodeCapacityExceeded:  http.StatusConflict,
	CodeLateJoinForbidden: http.StatusConflict,
	CodeDuplicateAnswer:   http.StatusConflict,
	CodeSessionNotActive:  http.StatusConflict,
	CodeSessionEnded:      http.StatusGone,
	CodeAlreadyActive:     http.StatusConflict,
	CodeNotPaused:         http.StatusConflict,
	CodeForbidden:         http.StatusForbidden,
	CodeQuestionClosed:    http.StatusConflict,
	CodeQuizNotPublished:  http.StatusUnprocessableEntity,
	CodeInternal:          http.StatusInternalServerError,
}

var code2grpc = map[Code]codes.Code{
	CodeInvalidArgument:   codes.InvalidArgument,
	CodeNotFound:          codes.NotFound,
	CodeCapacityExceeded:  codes.ResourceExhausted,
	CodeLateJoinForbidden: codes.FailedPrecondition,
	CodeDuplicateAnswer:   codes.AlreadyExists,
	CodeSessionNotActive:  codes.FailedPrecondition,
	CodeSessionEnded:      codes.FailedPrecondition,
	CodeAlreadyActive:     codes.FailedPrecondition,
	CodeNotPaused:         codes.FailedPrecondition,
	CodeForbidden:         codes.PermissionDenied,
	CodeQuestionClosed:    codes.FailedPrecondition,
	CodeQuizNotPublished:  codes.FailedPrecondition,
	CodeInternal:          codes.Internal,
}

// Error is an expected, user-facing rejection. Anything else reaching an API boundary is
// converted to CodeInternal.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: string(code),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %s, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code, so callers can write
// errors.Is(err, errors.New(errors.CodeNotFound)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) GRPCStatus() *status.Status {
	c, ok := code2grpc[e.Code]
	if !ok {
		c = codes.Internal
	}

	return status.New(c, e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}

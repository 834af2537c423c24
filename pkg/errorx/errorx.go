// Package errorx provides errors that carry a registered business code.
//
// A code is registered once with MustRegister and then attached to errors
// through WithCode or WrapC. Transport layers resolve the HTTP status and the
// public message through ParseCoder.
package errorx

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Coder describes a registered error code.
type Coder interface {
	// HTTPStatus is the status the transport should answer with.
	HTTPStatus() int
	// String is the public message for the code.
	String() string
	// Reference points at documentation for the code, may be empty.
	Reference() string
	// Code is the numeric business code.
	Code() int
}

// UnknownCode is used for errors that carry no registered code.
const UnknownCode = 1

type defaultCoder struct {
	code int
	http int
	msg  string
}

func (c defaultCoder) Code() int         { return c.code }
func (c defaultCoder) HTTPStatus() int   { return c.http }
func (c defaultCoder) String() string    { return c.msg }
func (c defaultCoder) Reference() string { return "" }

var (
	unknownCoder = defaultCoder{code: UnknownCode, http: http.StatusInternalServerError, msg: "Internal server error"}

	codes   = map[int]Coder{}
	codeMux sync.RWMutex
)

// Register registers a coder. Registering the same code twice is an error.
func Register(c Coder) error {
	if c.Code() == UnknownCode {
		return fmt.Errorf("code %d is reserved", UnknownCode)
	}
	codeMux.Lock()
	defer codeMux.Unlock()
	if _, ok := codes[c.Code()]; ok {
		return fmt.Errorf("code %d already registered", c.Code())
	}
	codes[c.Code()] = c
	return nil
}

// MustRegister registers a coder and panics on conflict.
func MustRegister(c Coder) {
	if err := Register(c); err != nil {
		panic(err)
	}
}

// withCode is an error annotated with a business code.
type withCode struct {
	msg   string
	code  int
	cause error
}

func (w *withCode) Error() string {
	if w.cause == nil {
		return w.msg
	}
	if w.msg == "" {
		return w.cause.Error()
	}
	return w.msg + ": " + w.cause.Error()
}

func (w *withCode) Unwrap() error { return w.cause }

// Code returns the attached business code.
func (w *withCode) Code() int { return w.code }

// WithCode creates a new coded error.
func WithCode(code int, format string, args ...interface{}) error {
	return &withCode{msg: fmt.Sprintf(format, args...), code: code}
}

// WrapC wraps err with a code and a message. A nil err yields nil.
func WrapC(err error, code int, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withCode{msg: fmt.Sprintf(format, args...), code: code, cause: err}
}

// ParseCoder returns the coder of the outermost coded error in err's chain.
func ParseCoder(err error) Coder {
	if err == nil {
		return nil
	}
	var w *withCode
	if errors.As(err, &w) {
		codeMux.RLock()
		defer codeMux.RUnlock()
		if c, ok := codes[w.code]; ok {
			return c
		}
	}
	return unknownCoder
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code int) bool {
	for err != nil {
		if w, ok := err.(*withCode); ok && w.code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

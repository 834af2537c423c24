package entity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason classifies why a model call failed.
type Reason string

const (
	ReasonUnknown       Reason = "unknown"
	ReasonAuth          Reason = "auth"
	ReasonRateLimit     Reason = "rate_limit"
	ReasonBilling       Reason = "billing"
	ReasonTimeout       Reason = "timeout"
	ReasonFormat        Reason = "format"
	ReasonUnavailable   Reason = "unavailable"
	ReasonServerError   Reason = "server_error"
	ReasonContentPolicy Reason = "content_policy"
	ReasonCanceled      Reason = "canceled"
)

// Retryable reports whether calling the same model again may succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonUnavailable, ReasonServerError, ReasonUnknown:
		return true
	}
	return false
}

// Failover reports whether the persona's next candidate model should be
// tried. Format and content policy failures follow the prompt, not the model.
func (r Reason) Failover() bool {
	switch r {
	case ReasonFormat, ReasonContentPolicy, ReasonCanceled:
		return false
	}
	return true
}

// Cools reports whether the model should rest before it is tried again.
func (r Reason) Cools() bool {
	return r == ReasonRateLimit || r == ReasonUnavailable
}

// CallError is a classified failure of one model.
type CallError struct {
	Ref    ModelRef
	Reason Reason
	Status int
	Code   string
	Err    error
}

// NewCallError classifies err as a failure of ref. An error that is already
// a CallError is returned with ref filled in.
func NewCallError(ref ModelRef, err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.Ref.IsZero() {
			ce.Ref = ref
		}
		return ce
	}
	return &CallError{
		Ref:    ref,
		Reason: Classify(err),
		Status: statusOf(err),
		Code:   codeOf(err),
		Err:    err,
	}
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Ref, e.Reason)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// Classify works out the Reason of a raw provider error from, in order, an
// earlier classification, the context, the HTTP status, a provider error
// code and finally the message text.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var ce *CallError
	switch {
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	if r, ok := byStatus[statusOf(err)]; ok {
		return r
	}
	if r, ok := byCode[strings.ToUpper(codeOf(err))]; ok {
		return r
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range byMessage {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.reason
			}
		}
	}
	return ReasonUnknown
}

// 400 is left out: providers report content filtering with it too, so the
// message decides.
var byStatus = map[int]Reason{
	http.StatusUnauthorized:        ReasonAuth,
	http.StatusForbidden:           ReasonAuth,
	http.StatusPaymentRequired:     ReasonBilling,
	http.StatusTooManyRequests:     ReasonRateLimit,
	http.StatusRequestTimeout:      ReasonTimeout,
	http.StatusServiceUnavailable:  ReasonUnavailable,
	http.StatusInternalServerError: ReasonServerError,
	http.StatusBadGateway:          ReasonServerError,
	http.StatusGatewayTimeout:      ReasonServerError,
}

var byCode = map[string]Reason{
	"CONTENT_FILTER":           ReasonContentPolicy,
	"CONTENT_POLICY_VIOLATION": ReasonContentPolicy,
	"SAFETY":                   ReasonContentPolicy,
	"ETIMEDOUT":                ReasonTimeout,
	"ESOCKETTIMEDOUT":          ReasonTimeout,
	"ECONNRESET":               ReasonTimeout,
	"ECONNABORTED":             ReasonTimeout,
	"ECONNREFUSED":             ReasonUnavailable,
	"RATE_LIMIT_EXCEEDED":      ReasonRateLimit,
	"INSUFFICIENT_QUOTA":       ReasonBilling,
}

// Checked in order; content policy wins over everything else.
var byMessage = []struct {
	reason  Reason
	needles []string
}{
	{ReasonContentPolicy, []string{"content policy", "content_policy", "content filter", "content_filter",
		"content management policy", "safety system", "blocked by safety", "responsible ai"}},
	{ReasonTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "quota exceeded", "throttl"}},
	{ReasonAuth, []string{"unauthorized", "authentication", "invalid api key", "invalid_api_key", "forbidden", "access denied"}},
	{ReasonBilling, []string{"billing", "payment", "insufficient_quota", "insufficient funds", "credit"}},
	{ReasonUnavailable, []string{"unavailable", "overloaded", "connection refused"}},
	{ReasonServerError, []string{"internal server error", "internal error", "bad gateway"}},
	{ReasonFormat, []string{"invalid request", "invalid_request", "bad request", "malformed"}},
}

func statusOf(err error) int {
	var a interface{ StatusCode() int }
	if errors.As(err, &a) {
		return a.StatusCode()
	}
	var b interface{ Status() int }
	if errors.As(err, &b) {
		return b.Status()
	}
	return 0
}

func codeOf(err error) string {
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}

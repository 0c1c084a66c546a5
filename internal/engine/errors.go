package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/habitfeed/internal/feed"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/normalize"
)

// ErrStopped is returned by operations submitted after the engine stopped.
var ErrStopped = errors.New("engine: stopped")

// FeedError is the recoverable error every engine operation returns. The
// engine never treats one as fatal: the affected view or post is restored and
// the loop continues.
type FeedError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the engine operation that failed, e.g. "react".
	Op string

	// View is set for view-scoped failures (refresh, load more).
	View string

	// PostID is set for post-scoped failures.
	PostID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes feed errors.
type ErrorCode string

const (
	// ErrCodeTransientNetwork covers timeouts, connectivity and any gateway
	// failure that is not an explicit rejection.
	ErrCodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"

	// ErrCodeRejectedMutation means the remote received and declined the call.
	ErrCodeRejectedMutation ErrorCode = "REJECTED_MUTATION"

	// ErrCodeMalformedRecord means the remote answered with a record that
	// could not be normalized.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_RECORD"

	// ErrCodeDuplicateSubmission means a temporary id was reused for a
	// different draft.
	ErrCodeDuplicateSubmission ErrorCode = "DUPLICATE_SUBMISSION"

	// ErrCodePostDiscarded means a mutation targeted a pending post whose
	// creation failed, or the session ended before it committed.
	ErrCodePostDiscarded ErrorCode = "POST_DISCARDED"

	// ErrCodeUnknownPost means the target post is not known locally.
	ErrCodeUnknownPost ErrorCode = "UNKNOWN_POST"
)

// Error implements the error interface.
func (e *FeedError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.View != "" {
		msg += fmt.Sprintf(" (view=%s)", e.View)
	}
	if e.PostID != "" {
		msg += fmt.Sprintf(" (post=%s)", e.PostID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FeedError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a rejected mutation.
// Uses errors.As to handle wrapped errors.
func IsRejected(err error) bool {
	return hasCode(err, ErrCodeRejectedMutation)
}

// IsTransient reports whether err is a transient network failure.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransientNetwork)
}

// IsDiscarded reports whether err means the target post was discarded.
func IsDiscarded(err error) bool {
	return hasCode(err, ErrCodePostDiscarded)
}

// CodeOf returns the code of the FeedError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func hasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// gatewayError classifies a gateway failure. Rejections keep their meaning;
// everything else, context expiry included, is transient.
func gatewayError(op, postID string, err error) *FeedError {
	code := ErrCodeTransientNetwork
	switch {
	case gateway.IsRejected(err):
		code = ErrCodeRejectedMutation
	case errors.Is(err, normalize.ErrMalformedRecord):
		code = ErrCodeMalformedRecord
	}
	return &FeedError{Code: code, Op: op, PostID: postID, Err: err}
}

func viewError(op string, key feed.ViewKey, err error) *FeedError {
	fe := gatewayError(op, "", err)
	fe.View = key.CacheKey()
	return fe
}

func unknownPost(op, postID string) *FeedError {
	return &FeedError{Code: ErrCodeUnknownPost, Op: op, PostID: postID, Err: errors.New("post not known locally")}
}

func discarded(op, postID string, cause error) *FeedError {
	return &FeedError{Code: ErrCodePostDiscarded, Op: op, PostID: postID, Err: cause}
}

package review

import "errors"

var (
	// ErrReviewNotFound indicates no review document exists for a change.
	ErrReviewNotFound = errors.New("review not found")
	// ErrAmbiguousChangeID indicates a change_id prefix matched more than one review.
	ErrAmbiguousChangeID = errors.New("change_id prefix is ambiguous")
	// ErrThreadNotFound indicates no thread matched the given id or prefix.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrAmbiguousThreadID indicates a thread id prefix matched more than one thread.
	ErrAmbiguousThreadID = errors.New("thread id prefix is ambiguous")
	// ErrInvalidInput indicates invalid input for a review operation.
	ErrInvalidInput = errors.New("invalid review input")
)

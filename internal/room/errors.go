package room

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRejected            = errors.New("rejected")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInsufficientTracks  = errors.New("playlist has fewer than 4 eligible tracks")
	ErrExpired             = errors.New("host session expired")
	ErrIDSpaceExhausted    = errors.New("could not allocate a free room id")
)

// NameRejection tells a joining participant why the chosen name was refused.
type NameRejection string

const (
	NameTaken   NameRejection = "taken"
	NameEmpty   NameRejection = "empty"
	NameTooLong NameRejection = "too_long"
)

func (r NameRejection) Message() string {
	switch r {
	case NameTaken:
		return "This name is already taken, enter a different name."
	case NameEmpty:
		return "This name can't be empty, enter a different name."
	case NameTooLong:
		return "This name is too long, enter a different name."
	}
	return "This name can't be used."
}

type NameRejectedError struct {
	Reason NameRejection
}

func (e *NameRejectedError) Error() string {
	return fmt.Sprintf("name rejected: %s", e.Reason)
}

func (e *NameRejectedError) Unwrap() error { return ErrRejected }

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

package internal

import (
	"errors"
	"log"
)

// ErrEmptyMessage is returned when a send is attempted with nothing but
// whitespace.
var ErrEmptyMessage = errors.New("message body is empty")

// ErrNotLoggedIn is returned when an operation needs an active session.
var ErrNotLoggedIn = errors.New("not logged in")

// bestEffort logs and swallows a remote write failure. Presence,
// typing, seen receipts, and ring cleanup all go through here: a failed
// write must never corrupt or block local state, and nothing is
// retried.
func bestEffort(op string, err error) {
	if err != nil {
		log.Printf("%s: %v", op, err)
	}
}

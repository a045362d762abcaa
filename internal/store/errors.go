package store

import (
	"errors"

	"github.com/Ian0520/gamestore/internal/protocol"
)

// Error is a record-store failure carrying a stable wire code. Repository
// implementations return these for caller-induced failures; anything else is
// an internal error and surfaces as db_error:<detail>.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMissingFields  = Error(protocol.CodeMissingFields)
	ErrBadCredentials = Error(protocol.CodeBadCredentials)
	ErrUsernameExists = Error(protocol.CodeUsernameExists)
	ErrNotFound       = Error(protocol.CodeNotFound)
	ErrNotOwner       = Error(protocol.CodeNotOwner)
	ErrGameExists     = Error(protocol.CodeGameExists)
	ErrVersionExists  = Error(protocol.CodeVersionExists)
	ErrGameDelisted   = Error(protocol.CodeGameDelisted)
	ErrNoVersion      = Error(protocol.CodeNoVersion)
	ErrNoSuchVersion  = Error("no_such_version")
	ErrBadRequest     = Error(protocol.CodeBadRequest)
	ErrNotEmpty       = Error("not_empty")
	ErrUnknownAction  = Error("unknown_action")
	ErrUnknownColl    = Error("unknown_collection")
)

// Code maps err onto its wire error code. Internal failures (I/O, SQL,
// transport) become db_error:<detail> per the propagation policy.
func Code(err error) string {
	var se Error
	if errors.As(err, &se) {
		return string(se)
	}
	return "db_error:" + err.Error()
}

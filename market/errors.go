package market

import (
	"errors"
	"fmt"
)

// Kind classifies a store error so transport layers can map it to a status
// code deterministically.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
)

// Error is a classified marketplace error.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf("market: "+format, args...)}
}

// KindOf extracts the classification from err, or "" when the error did not
// originate in the store.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

var (
	ErrAgentNotFound      = &Error{Kind: KindNotFound, msg: "market: agent not found"}
	ErrRFPNotFound        = &Error{Kind: KindNotFound, msg: "market: rfp not found"}
	ErrBidNotFound        = &Error{Kind: KindNotFound, msg: "market: bid not found"}
	ErrAssignmentNotFound = &Error{Kind: KindNotFound, msg: "market: assignment not found"}
	ErrRFPNotOpen         = &Error{Kind: KindConflict, msg: "market: rfp is not open for bidding"}
	ErrRFPExpired         = &Error{Kind: KindConflict, msg: "market: rfp has expired"}
	ErrBiddingClosed      = &Error{Kind: KindConflict, msg: "market: bidding deadline has passed"}
	ErrAlreadyAssigned    = &Error{Kind: KindConflict, msg: "market: rfp already has an assignment"}
	ErrDuplicateRating    = &Error{Kind: KindConflict, msg: "market: assignment already rated by this agent"}
	ErrNotRequester       = &Error{Kind: KindUnauthorized, msg: "market: caller is not the rfp requester"}
	ErrNotConsumer        = &Error{Kind: KindUnauthorized, msg: "market: caller is not the assignment consumer"}
)

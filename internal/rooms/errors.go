/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package rooms

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable category of a client-facing error.
type Kind string

const (
	KindRoomNotFound           Kind = "room_not_found"
	KindRoomFull               Kind = "room_full"
	KindNotInRoom              Kind = "not_in_room"
	KindNotYourTurn            Kind = "not_your_turn"
	KindRoomOrProposalNotFound Kind = "room_or_proposal_not_found"
	KindStaleProposal          Kind = "stale_proposal"
	KindAlreadyInRoom          Kind = "already_in_room"
	KindInvalidRequest         Kind = "invalid_request"
	KindRateLimited            Kind = "rate_limited"
)

// Error is a rejected request. It is always safe to show to the requester
// and never indicates a server defect.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same Kind, so errors.Is works against the
// sentinels below even when the message differs.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}

var (
	ErrRoomNotFound           = &Error{Kind: KindRoomNotFound, Message: "Room not found"}
	ErrRoomFull               = &Error{Kind: KindRoomFull, Message: "Room is full"}
	ErrNotInRoom              = &Error{Kind: KindNotInRoom, Message: "You are not in this room"}
	ErrNotYourTurn            = &Error{Kind: KindNotYourTurn, Message: "It is not your turn to respond to this proposal"}
	ErrRoomOrProposalNotFound = &Error{Kind: KindRoomOrProposalNotFound, Message: "Room or proposal not found"}
	ErrStaleProposal          = &Error{Kind: KindStaleProposal, Message: "That proposal is no longer the current one"}
	ErrAlreadyInRoom          = &Error{Kind: KindAlreadyInRoom, Message: "You are already in a room; leave it before joining another"}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest, Message: "Invalid request"}
	ErrRateLimited            = &Error{Kind: KindRateLimited, Message: "Too many requests; slow down"}
)

// Invalid returns an invalid_request error carrying a specific message.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind carried by err, or the empty Kind if err is not
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

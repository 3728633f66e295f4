package model

import "errors"

// ErrNotFound is matched (via errors.Is) by fetch errors for resources the server does not have.
var ErrNotFound = errors.New("model: not found")

// MemberPage is one page of a team's member list. Next is empty on the last page.
type MemberPage struct {
	Members []Member
	Next    string
}

// MessagePage is one page of channel history.
//
// Replies holds the messages referenced by ReplyTo fields on the page that the
// server chose to inline.
type MessagePage struct {
	Messages []Message
	Replies  []Message
}

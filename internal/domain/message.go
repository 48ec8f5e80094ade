package domain

import "time"

// InboundEvent is a chat message as delivered by a gateway. Gateways build it
// once; the pipeline never mutates it.
type InboundEvent struct {
	ID          string // gateway message id
	Channel     string // gateway name (discord, telegram, console)
	ChatID      string // conversation/channel the message was posted in
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Text        string
	Reference   Optional[MessageRef] // set when the message replies to another one
	Timestamp   time.Time
}

// MessageRef points at a previously sent message.
type MessageRef struct {
	MessageID string
	ChatID    string
	Resolved  Optional[string] // referenced content when the gateway already had it
}

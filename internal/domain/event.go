// Package domain defines the persistence models and wire types of the event
// router. This file holds the normalized inbound event produced by platform
// adapters, together with its validation rules, and the structured response
// returned by command handlers.
package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Platform identifies the adapter that produced an event.
type Platform string

// Supported platforms. Adapters outside this set are rejected at ingress.
const (
	PlatformDiscord  Platform = "discord"
	PlatformTwitch   Platform = "twitch"
	PlatformSlack    Platform = "slack"
	PlatformTelegram Platform = "telegram"
	PlatformForum    Platform = "forum"
)

// Message types carried by Event.MessageType.
const (
	MessageTypeChat        = "chat"
	MessageTypeCommand     = "command"
	MessageTypeInteraction = "interaction"
	MessageTypeStreamEvent = "stream-event"
)

// Field length limits for inbound events.
const (
	MaxIDLen      = 255
	MaxMessageLen = 5000
)

var knownPlatforms = map[Platform]struct{}{
	PlatformDiscord:  {},
	PlatformTwitch:   {},
	PlatformSlack:    {},
	PlatformTelegram: {},
	PlatformForum:    {},
}

var knownMessageTypes = map[string]struct{}{
	MessageTypeChat:        {},
	MessageTypeCommand:     {},
	MessageTypeInteraction: {},
	MessageTypeStreamEvent: {},
}

// ErrInvalidEvent wraps every validation failure so callers can classify the
// whole family with a single errors.Is check.
var ErrInvalidEvent = errors.New("invalid event")

// KnownPlatform reports whether p names a supported adapter platform.
func KnownPlatform(p Platform) bool {
	_, ok := knownPlatforms[p]
	return ok
}

// Event is a normalized chat/interaction event. Adapters produce it, the
// router owns it exclusively for the duration of processing, and it is never
// mutated after ingestion.
type Event struct {
	Platform    Platform          `json:"platform"`
	ChannelID   string            `json:"channel_id"`
	UserID      string            `json:"user_id"`
	Username    string            `json:"username"`
	Message     string            `json:"message"`
	MessageType string            `json:"message_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks the event against the ingress constraints: platform and
// message_type membership, required fields, and length limits (255 for
// identifiers, 5000 for the message body, counted in runes).
func (e *Event) Validate() error {
	if _, ok := knownPlatforms[e.Platform]; !ok {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidEvent, e.Platform)
	}
	if err := requireLen("channel_id", e.ChannelID, MaxIDLen); err != nil {
		return err
	}
	if err := requireLen("user_id", e.UserID, MaxIDLen); err != nil {
		return err
	}
	if err := requireLen("username", e.Username, MaxIDLen); err != nil {
		return err
	}
	if err := requireLen("message", e.Message, MaxMessageLen); err != nil {
		return err
	}
	if e.MessageType != "" {
		if _, ok := knownMessageTypes[e.MessageType]; !ok {
			return fmt.Errorf("%w: unknown message_type %q", ErrInvalidEvent, e.MessageType)
		}
	}
	return nil
}

// IsCommand reports whether the event should enter the command pipeline.
// Events explicitly typed as commands qualify, as do untyped/chat messages
// whose body starts with a recognized command prefix.
func (e *Event) IsCommand() bool {
	if e.MessageType == MessageTypeCommand || e.MessageType == MessageTypeInteraction {
		return true
	}
	if e.MessageType != "" && e.MessageType != MessageTypeChat {
		return false
	}
	return len(e.Message) > 1 && (e.Message[0] == '!' || e.Message[0] == '/')
}

// Command extracts the bare command word (without prefix) from the message,
// or "" when the event is not a command.
func (e *Event) Command() string {
	if !e.IsCommand() {
		return ""
	}
	msg := e.Message
	if len(msg) > 0 && (msg[0] == '!' || msg[0] == '/') {
		msg = msg[1:]
	}
	for i := 0; i < len(msg); i++ {
		if msg[i] == ' ' || msg[i] == '\t' || msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}

func requireLen(field, v string, max int) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidEvent, field)
	}
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidEvent, field, max)
	}
	return nil
}

// HandlerResponse is the structured result returned by a command handler,
// shared by the gRPC and HTTP transports and by the response store.
type HandlerResponse struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

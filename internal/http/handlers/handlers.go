package handlers

import (
	"gorm.io/gorm"
)

// Handlers groups the HTTP endpoints for events, sessions, and admin
// operations. It depends on abstract contracts so transport concerns stay
// separate from pipeline logic.
type Handlers struct {
	pipeline  EventPipeline
	publisher EventPublisher // nil when the stream transport is disabled
	sessions  ResponseStore
	registry  CommandRegistry
	replay    DeadLetterReplayer // nil when the stream transport is disabled
	resolver  ChannelResolver    // nil drops mapping cache invalidation
	db        *gorm.DB
}

// New constructs a Handlers instance bound to the given collaborators.
// publisher, replay, and resolver may be nil.
func New(pipeline EventPipeline, publisher EventPublisher, sessions ResponseStore, reg CommandRegistry, replay DeadLetterReplayer, resolver ChannelResolver, db *gorm.DB) *Handlers {
	return &Handlers{
		pipeline:  pipeline,
		publisher: publisher,
		sessions:  sessions,
		registry:  reg,
		replay:    replay,
		resolver:  resolver,
		db:        db,
	}
}

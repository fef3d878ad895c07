// Package domain defines the persistence models for command bindings,
// community mappings, the translation cache, and dead letters. These types
// are mapped with GORM and form the core data layer of the event router.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Protocol names accepted in a CommandBinding handler locator.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// CommandBinding maps a command string to the handler service that executes
// it, together with the policy applied before dispatch. A binding is either
// scoped to one community (CommunityID set) or global (CommunityID nil);
// community-scoped bindings take precedence over global ones.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Command: the bare command word without prefix (e.g. "help").
//   - CommunityID: owning community, or nil for a global binding. The
//     (command, community_id) pair is unique.
//   - Protocol: "grpc" or "http"; selects the preferred dispatch transport.
//   - Address: handler service address (host:port or base URL).
//   - PermissionLevel: minimum permission required to invoke the command.
//   - CooldownSeconds: per-user cooldown between successive uses; 0 disables.
//   - IsEnabled: disabled bindings are surfaced distinctly from missing ones.
type CommandBinding struct {
	ID              string         `json:"id"               gorm:"type:char(36);primaryKey"`
	Command         string         `json:"command"          gorm:"type:varchar(64);not null;uniqueIndex:ux_command_community"`
	CommunityID     *string        `json:"community_id"     gorm:"type:varchar(64);uniqueIndex:ux_command_community"`
	Protocol        string         `json:"protocol"         gorm:"type:varchar(16);not null;default:'grpc';check:protocol IN ('grpc','http')"`
	Address         string         `json:"address"          gorm:"type:varchar(255);not null"`
	PermissionLevel int            `json:"permission_level" gorm:"not null;default:0"`
	CooldownSeconds int            `json:"cooldown_seconds" gorm:"not null;default:0"`
	IsEnabled       bool           `json:"is_enabled"       gorm:"not null;default:true"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for CommandBinding.
func (CommandBinding) TableName() string { return "command_bindings" }

// IsGlobal reports whether the binding applies to every community.
func (b *CommandBinding) IsGlobal() bool { return b.CommunityID == nil }

// Cooldown returns the binding's cooldown as a duration.
func (b *CommandBinding) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}

// CommunityMapping resolves a platform channel/server identifier to the
// community that owns it. Events arriving on unmapped channels are rejected.
//
// The (platform, channel_id) pair is unique: one channel belongs to exactly
// one community, while a community may own many channels across platforms.
type CommunityMapping struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Platform    string         `json:"platform"     gorm:"type:varchar(32);not null;uniqueIndex:ux_platform_channel"`
	ChannelID   string         `json:"channel_id"   gorm:"type:varchar(255);not null;uniqueIndex:ux_platform_channel"`
	CommunityID string         `json:"community_id" gorm:"type:varchar(64);not null;index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for CommunityMapping.
func (CommunityMapping) TableName() string { return "community_mappings" }

// TranslationEntry is the persistent (authoritative) tier of the translation
// cache. One row exists per (source text, source language, target language)
// triple, addressed by a content hash. Access bookkeeping feeds eviction
// scoring in the upper cache tiers.
type TranslationEntry struct {
	Key            string    `json:"key"             gorm:"type:char(64);primaryKey"`
	SourceText     string    `json:"source_text"     gorm:"type:text;not null"`
	SourceLang     string    `json:"source_lang"     gorm:"type:varchar(8);not null"`
	TargetLang     string    `json:"target_lang"     gorm:"type:varchar(8);not null"`
	TranslatedText string    `json:"translated_text" gorm:"type:text;not null"`
	Provider       string    `json:"provider"        gorm:"type:varchar(32);not null"`
	Confidence     float64   `json:"confidence"      gorm:"not null;default:0"`
	AccessCount    int64     `json:"access_count"    gorm:"not null;default:0"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for TranslationEntry.
func (TranslationEntry) TableName() string { return "translation_cache" }

// DeadLetter records a stream message that exhausted its retries. Rows are
// written before the message is acknowledged on the primary stream, so a
// failed delivery is never silently lost. Replay is an operator action.
type DeadLetter struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	StreamID   string     `json:"stream_id"   gorm:"type:varchar(64);not null;index"`
	Payload    string     `json:"payload"     gorm:"type:text;not null"`
	Reason     string     `json:"reason"      gorm:"type:text;not null"`
	RetryCount int        `json:"retry_count" gorm:"not null"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// TableName returns the database table name for DeadLetter.
func (DeadLetter) TableName() string { return "dead_letters" }

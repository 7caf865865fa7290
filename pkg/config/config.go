// Package config defines the bot's effective configuration shape and a
// layered store (base / group settings / user personalization) backed by
// the same BadgerDB-backed key-value store the rate limiter uses.
package config

import (
	"time"

	"github.com/groupmind/groupmind/internal/humanizer/emoji"
	"github.com/groupmind/groupmind/internal/humanizer/expression"
	"github.com/groupmind/groupmind/internal/humanizer/frequency"
	"github.com/groupmind/groupmind/internal/humanizer/memory"
	"github.com/groupmind/groupmind/internal/humanizer/planner"
	"github.com/groupmind/groupmind/internal/humanizer/topic"
	"github.com/groupmind/groupmind/internal/humanizer/typo"
)

// Personality controls the personality-state picker in the prompt builder.
type Personality struct {
	States           []string `json:"states" yaml:"states"`
	StateProbability float64  `json:"state_probability" yaml:"state_probability"`
}

// ReplyStyle controls the reply-style picker in the prompt builder.
type ReplyStyle struct {
	BaseStyle           string   `json:"base_style" yaml:"base_style"`
	MultipleStyles      []string `json:"multiple_styles" yaml:"multiple_styles"`
	MultipleProbability float64  `json:"multiple_probability" yaml:"multiple_probability"`
}

// MemoryConfig mirrors internal/humanizer/memory.Config with the wire
// duration unit (milliseconds) the spec's key list names.
type MemoryConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations"`
	TimeoutMillis int    `json:"timeout_ms" yaml:"timeout_ms"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
}

// TopicConfig mirrors internal/humanizer/topic.Config.
type TopicConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	MessageThreshold    int    `json:"message_threshold" yaml:"message_threshold"`
	TimeThresholdMillis int    `json:"time_threshold_ms" yaml:"time_threshold_ms"`
	MaxTopicsPerSession int    `json:"max_topics_per_session" yaml:"max_topics_per_session"`
	Model               string `json:"model,omitempty" yaml:"model,omitempty"`
}

// PlannerConfig mirrors internal/humanizer/planner.Config.
type PlannerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// FrequencyConfig mirrors internal/humanizer/frequency.Config.
type FrequencyConfig struct {
	Enabled                    bool    `json:"enabled" yaml:"enabled"`
	MinIntervalMillis          int     `json:"min_interval_ms" yaml:"min_interval_ms"`
	MaxIntervalMillis          int     `json:"max_interval_ms" yaml:"max_interval_ms"`
	SpeakProbability           float64 `json:"speak_probability" yaml:"speak_probability"`
	QuietHoursStart            int     `json:"quiet_hours_start" yaml:"quiet_hours_start"`
	QuietHoursEnd              int     `json:"quiet_hours_end" yaml:"quiet_hours_end"`
	QuietProbabilityMultiplier float64 `json:"quiet_probability_multiplier" yaml:"quiet_probability_multiplier"`
}

// TypoConfig mirrors internal/humanizer/typo.Config.
type TypoConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	ErrorRate       float64 `json:"error_rate" yaml:"error_rate"`
	WordReplaceRate float64 `json:"word_replace_rate" yaml:"word_replace_rate"`
}

// EmojiConfig mirrors internal/humanizer/emoji.Config.
type EmojiConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	EmojiDir        string  `json:"emoji_dir" yaml:"emoji_dir"`
	SendProbability float64 `json:"send_probability" yaml:"send_probability"`
}

// ExpressionConfig mirrors internal/humanizer/expression.Config.
type ExpressionConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	MaxExpressions int  `json:"max_expressions" yaml:"max_expressions"`
	SampleSize     int  `json:"sample_size" yaml:"sample_size"`
}

// Config is the full effective configuration for one session, after
// layering base defaults, group settings, and user personalization. The
// yaml tags let an operator hand-edit a base config file on disk; the json
// tags are what gets marshaled into the layered badger-backed Store.
type Config struct {
	APIURL       string  `json:"api_url" yaml:"api_url"`
	APIKey       string  `json:"api_key" yaml:"api_key"`
	Model        string  `json:"model" yaml:"model"`
	WorkingModel *string `json:"working_model,omitempty" yaml:"working_model,omitempty"`
	IsMultimodal bool    `json:"is_multimodal" yaml:"is_multimodal"`

	// BotUID and BotOwnerIDs are not in the spec's named config key list
	// but are required to evaluate "drop messages from the bot itself",
	// "@-mention of the bot", and "admin/owner/bot-owner" slash-command
	// gating; treated as ambient identity, not a tunable.
	BotUID      string   `json:"bot_uid" yaml:"bot_uid"`
	BotOwnerIDs []string `json:"bot_owner_ids" yaml:"bot_owner_ids"`

	Nicknames        []string `json:"nicknames" yaml:"nicknames"`
	Persona          string   `json:"persona" yaml:"persona"`
	MaxContextTokens int      `json:"max_context_tokens" yaml:"max_context_tokens"`
	Temperature      float64  `json:"temperature" yaml:"temperature"`
	HistoryCount     int      `json:"history_count" yaml:"history_count"`

	BlacklistGroups []string `json:"blacklist_groups" yaml:"blacklist_groups"`
	WhitelistGroups []string `json:"whitelist_groups" yaml:"whitelist_groups"`

	MaxSessions          int  `json:"max_sessions" yaml:"max_sessions"`
	MaxIterations        int  `json:"max_iterations" yaml:"max_iterations"` // -1 = unbounded
	EnableGroupAdmin     bool `json:"enable_group_admin" yaml:"enable_group_admin"`
	EnableExternalSkills bool `json:"enable_external_skills" yaml:"enable_external_skills"`

	Personality Personality      `json:"personality" yaml:"personality"`
	ReplyStyle  ReplyStyle       `json:"reply_style" yaml:"reply_style"`
	Memory      MemoryConfig     `json:"memory" yaml:"memory"`
	Topic       TopicConfig      `json:"topic" yaml:"topic"`
	Planner     PlannerConfig    `json:"planner" yaml:"planner"`
	Frequency   FrequencyConfig  `json:"frequency" yaml:"frequency"`
	Typo        TypoConfig       `json:"typo" yaml:"typo"`
	Emoji       EmojiConfig      `json:"emoji" yaml:"emoji"`
	Expression  ExpressionConfig `json:"expression" yaml:"expression"`
}

// Default returns the base configuration, matching each submodule's own
// DefaultConfig() for the nested sections.
func Default() Config {
	return Config{
		Model:                "gpt-4o",
		IsMultimodal:         false,
		MaxContextTokens:     8000,
		Temperature:          0.8,
		HistoryCount:         100,
		MaxSessions:          100,
		MaxIterations:        20,
		EnableGroupAdmin:     false,
		EnableExternalSkills: false,
		Personality:          Personality{StateProbability: 0},
		ReplyStyle:           ReplyStyle{MultipleProbability: 0},
		Memory: MemoryConfig{
			Enabled: true, MaxIterations: 3, TimeoutMillis: 15000,
		},
		Topic: TopicConfig{
			Enabled: true, MessageThreshold: 20, TimeThresholdMillis: 10 * 60 * 1000, MaxTopicsPerSession: 20,
		},
		Planner: PlannerConfig{Enabled: true},
		Frequency: FrequencyConfig{
			Enabled: true, MinIntervalMillis: 30000, MaxIntervalMillis: 5 * 60 * 1000,
			SpeakProbability: 0.3, QuietHoursStart: 23, QuietHoursEnd: 7, QuietProbabilityMultiplier: 0.3,
		},
		Typo:  TypoConfig{Enabled: true, ErrorRate: 0.03, WordReplaceRate: 0.10},
		Emoji: EmojiConfig{Enabled: true, EmojiDir: "emojis", SendProbability: 0.2},
		Expression: ExpressionConfig{
			Enabled: true, MaxExpressions: 100, SampleSize: 8,
		},
	}
}

// ToMemoryConfig converts the wire shape into internal/humanizer/memory.Config.
func (c Config) ToMemoryConfig() memory.Config {
	return memory.Config{
		Enabled:       c.Memory.Enabled,
		MaxIterations: c.Memory.MaxIterations,
		Timeout:       time.Duration(c.Memory.TimeoutMillis) * time.Millisecond,
		Model:         c.Memory.Model,
	}
}

// ToTopicConfig converts the wire shape into internal/humanizer/topic.Config.
func (c Config) ToTopicConfig() topic.Config {
	return topic.Config{
		Enabled:             c.Topic.Enabled,
		MessageThreshold:    c.Topic.MessageThreshold,
		TimeThreshold:       time.Duration(c.Topic.TimeThresholdMillis) * time.Millisecond,
		MaxTopicsPerSession: c.Topic.MaxTopicsPerSession,
		Model:               c.Topic.Model,
	}
}

// ToPlannerConfig converts the wire shape into internal/humanizer/planner.Config.
func (c Config) ToPlannerConfig() planner.Config {
	return planner.Config{Enabled: c.Planner.Enabled, Model: c.Planner.Model}
}

// ToFrequencyConfig converts the wire shape into internal/humanizer/frequency.Config.
func (c Config) ToFrequencyConfig() frequency.Config {
	return frequency.Config{
		Enabled:          c.Frequency.Enabled,
		MinInterval:      time.Duration(c.Frequency.MinIntervalMillis) * time.Millisecond,
		MaxInterval:      time.Duration(c.Frequency.MaxIntervalMillis) * time.Millisecond,
		SpeakProbability: c.Frequency.SpeakProbability,
		QuietHoursStart:  c.Frequency.QuietHoursStart,
		QuietHoursEnd:    c.Frequency.QuietHoursEnd,
		QuietMultiplier:  c.Frequency.QuietProbabilityMultiplier,
	}
}

// ToTypoConfig converts the wire shape into internal/humanizer/typo.Config.
func (c Config) ToTypoConfig() typo.Config {
	return typo.Config{
		Enabled:         c.Typo.Enabled,
		ErrorRate:       c.Typo.ErrorRate,
		WordReplaceRate: c.Typo.WordReplaceRate,
	}
}

// ToEmojiConfig converts the wire shape into internal/humanizer/emoji.Config.
func (c Config) ToEmojiConfig() emoji.Config {
	return emoji.Config{
		Enabled:         c.Emoji.Enabled,
		EmojiDir:        c.Emoji.EmojiDir,
		SendProbability: c.Emoji.SendProbability,
		IsMultimodal:    c.IsMultimodal,
	}
}

// ToExpressionConfig converts the wire shape into internal/humanizer/expression.Config.
func (c Config) ToExpressionConfig() expression.Config {
	return expression.Config{
		Enabled:        c.Expression.Enabled,
		MaxExpressions: c.Expression.MaxExpressions,
		SampleSize:     c.Expression.SampleSize,
	}
}

// EffectiveModel returns WorkingModel when set, else Model — the
// working_model? override named in the config key list.
func (c Config) EffectiveModel() string {
	if c.WorkingModel != nil && *c.WorkingModel != "" {
		return *c.WorkingModel
	}
	return c.Model
}

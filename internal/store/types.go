package store

import "time"

// SessionType distinguishes a group conversation from a one-on-one one.
type SessionType string

const (
	SessionGroup    SessionType = "group"
	SessionPersonal SessionType = "personal"
)

// UserRole is the sender's standing within a group.
type UserRole string

const (
	RoleOwner  UserRole = "owner"
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
)

// MessageRole tags who produced a persisted message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Emotion is drawn from the closed taxonomy emoji registrations use.
type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionSurprised Emotion = "surprised"
	EmotionDisgusted Emotion = "disgusted"
	EmotionScared    Emotion = "scared"
	EmotionNeutral   Emotion = "neutral"
	EmotionFunny     Emotion = "funny"
	EmotionCute      Emotion = "cute"
	EmotionConfused  Emotion = "confused"
	EmotionExcited   Emotion = "excited"
	EmotionTired     Emotion = "tired"
	EmotionLove      Emotion = "love"
)

// ValidEmotions lists the closed taxonomy for validation.
var ValidEmotions = map[Emotion]bool{
	EmotionHappy: true, EmotionSad: true, EmotionAngry: true, EmotionSurprised: true,
	EmotionDisgusted: true, EmotionScared: true, EmotionNeutral: true, EmotionFunny: true,
	EmotionCute: true, EmotionConfused: true, EmotionExcited: true, EmotionTired: true,
	EmotionLove: true,
}

// Session is the identity of a conversation thread.
type Session struct {
	ID                 string
	Type               SessionType
	TargetID           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompressedContext  *string
}

// Message is an immutable append-only entry.
type Message struct {
	ID         int64
	SessionID  string
	Role       MessageRole
	Content    string
	UserID     string
	UserName   string
	UserRole   UserRole
	UserTitle  string
	GroupID    string
	GroupName  string
	Timestamp  time.Time
	MessageID  string
}

// Topic is extracted by the topic tracker.
type Topic struct {
	ID           int64
	SessionID    string
	Title        string
	Keywords     []string
	Summary      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expression is a learned speaking habit.
type Expression struct {
	ID        int64
	SessionID string
	UserID    string
	UserName  string
	Situation string
	Style     string
	Example   string
	CreatedAt time.Time
}

// Emoji is a sticker registration.
type Emoji struct {
	ID          int64
	FileName    string
	Description string
	Emotion     Emotion
	UsageCount  int
	CreatedAt   time.Time
}

// GroupKey builds the canonical group session id.
func GroupKey(groupID string) string { return "group:" + groupID }

// PersonalKey builds the canonical personal session id.
func PersonalKey(userID string) string { return "personal:" + userID }

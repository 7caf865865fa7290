// Package dispatcher is the top-level event loop: it decides whether an
// inbound message or poke should trigger a reply, gates it through the
// rate limiter, frequency controller, and action planner, then drives the
// chat engine and emits the outbound messages it returns.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"github.com/groupmind/groupmind/internal/botgateway"
	"github.com/groupmind/groupmind/internal/chatengine"
	"github.com/groupmind/groupmind/internal/humanizer/emoji"
	"github.com/groupmind/groupmind/internal/humanizer/expression"
	"github.com/groupmind/groupmind/internal/humanizer/frequency"
	"github.com/groupmind/groupmind/internal/humanizer/memory"
	"github.com/groupmind/groupmind/internal/humanizer/planner"
	"github.com/groupmind/groupmind/internal/humanizer/topic"
	"github.com/groupmind/groupmind/internal/listener"
	"github.com/groupmind/groupmind/internal/ratelimit"
	"github.com/groupmind/groupmind/internal/session"
	"github.com/groupmind/groupmind/internal/skills"
	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/pkg/config"
)

// followUpWindow is how long after a bot reply a follow-up from the same
// user in the same group is still eligible to be re-evaluated by the
// planner without an explicit @-mention.
const followUpWindow = 3 * time.Minute

// defaultPokeCooldown gates how often a group's poke notices can trigger a
// reply.
const defaultPokeCooldown = 10 * time.Minute

// Dispatcher wires every humanizer submodule, the chat engine, and the bot
// gateway into the single decide-trigger/gate/reply event loop.
type Dispatcher struct {
	cfgStore *config.Store
	st       *store.Store
	sessions *session.Manager
	gateway  botgateway.Gateway
	limiter  *ratelimit.Limiter
	skills   *skills.Registry

	memoryRetriever *memory.Retriever
	topicTracker    *topic.Tracker
	expressionLrn   *expression.Learner
	emojiSystem     *emoji.System
	actionPlanner   *planner.Planner
	freqController  *frequency.Controller
	engine          *chatengine.Engine
	listeners       *listener.Manager

	// InterLineDelay/InterMessageDelay are overridable for tests; the
	// production defaults match the dispatcher contract's 300 ms figures.
	InterLineDelay    time.Duration
	InterMessageDelay time.Duration
	PokeCooldown      time.Duration

	mu         sync.Mutex
	inFlight   map[string]bool
	followUpAt map[string]time.Time // "group:user" -> last bot reply time
	lastPokeAt map[string]time.Time // group id -> last accepted poke time
}

// Deps bundles every collaborator Dispatcher needs.
type Deps struct {
	ConfigStore     *config.Store
	Store           *store.Store
	Sessions        *session.Manager
	Gateway         botgateway.Gateway
	Limiter         *ratelimit.Limiter
	Skills          *skills.Registry
	MemoryRetriever *memory.Retriever
	TopicTracker    *topic.Tracker
	Expression      *expression.Learner
	Emoji           *emoji.System
	Planner         *planner.Planner
	Frequency       *frequency.Controller
	Engine          *chatengine.Engine
	Listeners       *listener.Manager
}

// New wires a Dispatcher from its dependencies.
func New(d Deps) *Dispatcher {
	return &Dispatcher{
		cfgStore:          d.ConfigStore,
		st:                d.Store,
		sessions:          d.Sessions,
		gateway:           d.Gateway,
		limiter:           d.Limiter,
		skills:            d.Skills,
		memoryRetriever:   d.MemoryRetriever,
		topicTracker:      d.TopicTracker,
		expressionLrn:     d.Expression,
		emojiSystem:       d.Emoji,
		actionPlanner:     d.Planner,
		freqController:    d.Frequency,
		engine:            d.Engine,
		listeners:         d.Listeners,
		InterLineDelay:    300 * time.Millisecond,
		InterMessageDelay: 300 * time.Millisecond,
		PokeCooldown:      defaultPokeCooldown,
		inFlight:          make(map[string]bool),
		followUpAt:        make(map[string]time.Time),
		lastPokeAt:        make(map[string]time.Time),
	}
}

// chatOptions carries process_chat's {skip_planner?, trigger_reason?} bag.
type chatOptions struct {
	skipPlanner   bool
	triggerReason string
}

// HandleMessage runs the full dispatcher algorithm for one inbound message.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg botgateway.Message) error {
	cfg, err := d.cfgStore.Effective(msg.GroupID, msg.UserID)
	if err != nil {
		return fmt.Errorf("dispatcher: load effective config: %w", err)
	}

	if msg.UserID == cfg.BotUID {
		return nil
	}

	text := plainText(msg)

	if handled, err := d.handleSlashCommand(ctx, msg, cfg, text); handled {
		return err
	}

	if !groupAllowed(msg.GroupID, cfg) {
		return nil
	}

	if d.listeners != nil {
		listenerSessionID := store.PersonalKey(msg.UserID)
		if msg.GroupID != "" {
			listenerSessionID = store.GroupKey(msg.GroupID)
		}
		if fired, ok := d.listeners.OnMessage(listenerSessionID, msg.UserID); ok {
			return d.processChat(ctx, msg, cfg, chatOptions{skipPlanner: true, triggerReason: "listener fired: " + fired.Reason})
		}
	}

	triggered, opts := d.decideTrigger(ctx, msg, cfg, text)
	if !triggered {
		return nil
	}

	if !d.limiter.Allow(msg.UserID, msg.GroupID, text) {
		return nil
	}
	d.limiter.Record(msg.UserID, msg.GroupID, text)

	return d.processChat(ctx, msg, cfg, opts)
}

// HandlePoke runs the poke path: a notice.group.poke targeted at the bot is
// treated as a synthetic triggering inbound message, skipping the normal
// trigger rules but still subject to the in-flight guard and frequency gate.
func (d *Dispatcher) HandlePoke(ctx context.Context, notice botgateway.PokeNotice) error {
	cfg, err := d.cfgStore.Effective(notice.GroupID, notice.UserID)
	if err != nil {
		return fmt.Errorf("dispatcher: load effective config: %w", err)
	}
	if notice.TargetID != cfg.BotUID {
		return nil
	}
	if !groupAllowed(notice.GroupID, cfg) {
		return nil
	}

	cooldown := d.PokeCooldown
	if cooldown <= 0 {
		cooldown = defaultPokeCooldown
	}
	d.mu.Lock()
	last, ok := d.lastPokeAt[notice.GroupID]
	if ok && time.Since(last) < cooldown {
		d.mu.Unlock()
		return nil
	}
	d.lastPokeAt[notice.GroupID] = time.Now()
	d.mu.Unlock()

	member, err := d.gateway.GetGroupMemberInfo(ctx, notice.GroupID, notice.UserID)
	name := notice.UserID
	if err == nil && member.Card != "" {
		name = member.Card
	} else if err == nil && member.Nickname != "" {
		name = member.Nickname
	}

	synthetic := botgateway.Message{
		GroupID:  notice.GroupID,
		UserID:   notice.UserID,
		UserName: name,
		RawText:  fmt.Sprintf("[%s poked you]", name),
		Time:     time.Now(),
	}
	return d.processChat(ctx, synthetic, cfg, chatOptions{skipPlanner: true})
}

func (d *Dispatcher) handleSlashCommand(ctx context.Context, msg botgateway.Message, cfg config.Config, text string) (handled bool, err error) {
	switch {
	case strings.HasPrefix(text, "/reset-self"):
		personalID := store.PersonalKey(msg.UserID)
		if d.listeners != nil {
			d.listeners.Cancel(personalID)
		}
		return true, d.sessions.Reset(personalID)
	case strings.HasPrefix(text, "/reset-group"):
		if msg.GroupID == "" {
			return true, nil
		}
		if !d.canManageGroup(ctx, msg.GroupID, msg.UserID, cfg) {
			return true, nil
		}
		groupID := store.GroupKey(msg.GroupID)
		if d.listeners != nil {
			d.listeners.Cancel(groupID)
		}
		return true, d.sessions.Reset(groupID)
	case strings.HasPrefix(text, "/skills"):
		return true, d.replyLoadedSkills(ctx, msg)
	case strings.HasPrefix(text, "/mute"), strings.HasPrefix(text, "/unmute"):
		return true, d.handleMuteCommand(ctx, msg, cfg, text)
	default:
		return false, nil
	}
}

// handleMuteCommand implements the "/mute <user_id> [seconds] [reason...]"
// and "/unmute <user_id>" admin shortcuts. The reason is free text and may
// itself contain spaces, so the line is tokenized with shlex rather than a
// naive strings.Fields split, the same way a quoted multi-word argument
// survives tokenization for a CLI-style skill invocation.
func (d *Dispatcher) handleMuteCommand(ctx context.Context, msg botgateway.Message, cfg config.Config, text string) error {
	if msg.GroupID == "" {
		return nil
	}
	if !d.canManageGroup(ctx, msg.GroupID, msg.UserID, cfg) {
		return nil
	}
	parts, err := shlex.Split(text)
	if err != nil || len(parts) < 2 {
		_, err := d.send(ctx, msg, []botgateway.Segment{botgateway.TextSegment("usage: /mute <user_id> [seconds] [reason] or /unmute <user_id>")})
		return err
	}
	cmd, userID := parts[0], parts[1]
	if cmd == "/unmute" {
		return d.gateway.SetGroupBan(ctx, msg.GroupID, userID, 0)
	}
	seconds := 60
	if len(parts) >= 3 {
		if n, convErr := strconv.Atoi(parts[2]); convErr == nil {
			seconds = n
		}
	}
	return d.gateway.SetGroupBan(ctx, msg.GroupID, userID, seconds)
}

// replyLoadedSkills answers /skills with the names of the skills currently
// loaded for this message's session, an introspection command symmetrical
// with LoadSkill/UnloadSkill.
func (d *Dispatcher) replyLoadedSkills(ctx context.Context, msg botgateway.Message) error {
	sessionID := store.PersonalKey(msg.UserID)
	if msg.GroupID != "" {
		sessionID = store.GroupKey(msg.GroupID)
	}
	loadedTools := d.skills.GetTools(sessionID)

	var names []string
	for _, skill := range d.skills.List() {
		for _, tool := range skill.Tools {
			if _, ok := loadedTools[tool.Name]; ok {
				names = append(names, skill.Name)
				break
			}
		}
	}

	reply := "no skills loaded for this session"
	if len(names) > 0 {
		reply = "loaded skills: " + strings.Join(names, ", ")
	}
	_, err := d.send(ctx, msg, []botgateway.Segment{botgateway.TextSegment(reply)})
	return err
}

func (d *Dispatcher) canManageGroup(ctx context.Context, groupID, userID string, cfg config.Config) bool {
	for _, owner := range cfg.BotOwnerIDs {
		if owner == userID {
			return true
		}
	}
	member, err := d.gateway.GetGroupMemberInfo(ctx, groupID, userID)
	if err != nil {
		return false
	}
	return member.Role == string(store.RoleAdmin) || member.Role == string(store.RoleOwner)
}

func groupAllowed(groupID string, cfg config.Config) bool {
	if groupID == "" {
		return true
	}
	if len(cfg.WhitelistGroups) > 0 {
		return contains(cfg.WhitelistGroups, groupID)
	}
	if len(cfg.BlacklistGroups) > 0 {
		return !contains(cfg.BlacklistGroups, groupID)
	}
	return true
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// decideTrigger implements step 5: direct @-mention, quote-of-bot,
// follow-up window, or nickname mention.
func (d *Dispatcher) decideTrigger(ctx context.Context, msg botgateway.Message, cfg config.Config, text string) (bool, chatOptions) {
	if isDirectMention(msg, cfg.BotUID) || isNicknameMention(text, cfg.Nicknames) {
		return true, chatOptions{skipPlanner: true}
	}

	if d.isQuoteOfBot(ctx, msg, cfg.BotUID) {
		return true, chatOptions{skipPlanner: false}
	}

	key := followUpKey(msg.GroupID, msg.UserID)
	d.mu.Lock()
	last, ok := d.followUpAt[key]
	if ok {
		delete(d.followUpAt, key)
	}
	d.mu.Unlock()
	if ok && time.Since(last) < followUpWindow {
		return true, chatOptions{skipPlanner: false}
	}

	return false, chatOptions{}
}

func isDirectMention(msg botgateway.Message, botUID string) bool {
	if botUID == "" {
		return false
	}
	for _, seg := range msg.Segments {
		if seg.Type == botgateway.SegmentAt && seg.Data["qq"] == botUID {
			return true
		}
	}
	return false
}

func isNicknameMention(text string, nicknames []string) bool {
	lower := strings.ToLower(text)
	for _, n := range nicknames {
		if n == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) isQuoteOfBot(ctx context.Context, msg botgateway.Message, botUID string) bool {
	if botUID == "" {
		return false
	}
	quotedID := quotedMessageID(msg)
	if quotedID == "" {
		return false
	}
	quoted, err := d.gateway.GetMsg(ctx, quotedID)
	if err != nil {
		return false
	}
	return quoted.UserID == botUID
}

func quotedMessageID(msg botgateway.Message) string {
	for _, seg := range msg.Segments {
		if seg.Type == botgateway.SegmentReply {
			return seg.Data["id"]
		}
	}
	return ""
}

func followUpKey(groupID, userID string) string { return groupID + ":" + userID }

func plainText(msg botgateway.Message) string {
	if msg.RawText != "" {
		return msg.RawText
	}
	var b strings.Builder
	for _, seg := range msg.Segments {
		if seg.Type == botgateway.SegmentText {
			b.WriteString(seg.Data["text"])
		}
	}
	return b.String()
}

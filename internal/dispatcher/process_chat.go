package dispatcher

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/groupmind/groupmind/internal/botgateway"
	"github.com/groupmind/groupmind/internal/chatengine"
	"github.com/groupmind/groupmind/internal/humanizer/frequency"
	"github.com/groupmind/groupmind/internal/humanizer/planner"
	"github.com/groupmind/groupmind/internal/humanizer/typo"
	"github.com/groupmind/groupmind/internal/prompt"
	"github.com/groupmind/groupmind/internal/store"
	"github.com/groupmind/groupmind/internal/toolcatalog"
	"github.com/groupmind/groupmind/pkg/config"
)

// processChat implements the dispatcher contract's process_chat algorithm.
func (d *Dispatcher) processChat(ctx context.Context, msg botgateway.Message, cfg config.Config, opts chatOptions) error {
	groupSessionID := ""
	if msg.GroupID != "" {
		groupSessionID = store.GroupKey(msg.GroupID)
	}
	personalSessionID := store.PersonalKey(msg.UserID)
	guardKey := groupSessionID
	if guardKey == "" {
		guardKey = personalSessionID
	}

	if !d.tryEnterInFlight(guardKey) {
		return nil
	}
	defer d.leaveInFlight(guardKey)

	if groupSessionID != "" {
		if _, err := d.sessions.GetOrCreate(groupSessionID, store.SessionGroup, msg.GroupID); err != nil {
			return fmt.Errorf("dispatcher: ensure group session: %w", err)
		}
	}
	if _, err := d.sessions.GetOrCreate(personalSessionID, store.SessionPersonal, msg.UserID); err != nil {
		return fmt.Errorf("dispatcher: ensure personal session: %w", err)
	}

	content := d.extractContent(ctx, msg)

	now := time.Now()
	persist := func(sessionID string) {
		if err := d.st.SaveMessage(store.Message{
			SessionID: sessionID,
			Role:      store.RoleUser,
			Content:   content,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			GroupID:   msg.GroupID,
			Timestamp: now,
			MessageID: msg.MessageID,
		}); err != nil {
			log.Printf("[WARN] dispatcher: persist inbound to %s: %v", sessionID, err)
		}
	}
	if groupSessionID != "" {
		persist(groupSessionID)
	}
	persist(personalSessionID)

	activeSessionID := groupSessionID
	if activeSessionID == "" {
		activeSessionID = personalSessionID
	}
	d.fanOut(activeSessionID, msg, content)

	if groupSessionID != "" && d.freqController != nil && !d.freqController.ShouldSpeak(groupSessionID) {
		return nil
	}

	historyCount := cfg.HistoryCount
	if historyCount <= 0 {
		historyCount = 30
	}
	history, err := d.st.GetMessages(activeSessionID, historyCount, nil)
	if err != nil {
		log.Printf("[WARN] dispatcher: load history: %v", err)
	}
	history = prompt.TrimHistoryToBudget(history, cfg.MaxContextTokens)

	if !opts.skipPlanner && d.actionPlanner != nil {
		decision := d.actionPlanner.Plan(ctx, activeSessionID, primaryNickname(cfg.Nicknames), history, content)
		if decision.Action != planner.ActionReply {
			return nil
		}
	}

	groupInfo, botRole := d.groupContext(ctx, msg.GroupID, cfg.BotUID)

	var memoryContext string
	if d.memoryRetriever != nil {
		memoryContext, err = d.memoryRetriever.Retrieve(ctx, activeSessionID, msg.UserName, content, history)
		if err != nil {
			log.Printf("[WARN] dispatcher: memory retrieval: %v", err)
		}
	}

	topicContext := d.topicContext(activeSessionID)
	var expressionContext string
	if d.expressionLrn != nil {
		expressionContext, err = d.expressionLrn.GetExpressionContext(activeSessionID)
		if err != nil {
			log.Printf("[WARN] dispatcher: expression context: %v", err)
		}
	}

	sessionType := store.SessionPersonal
	if groupSessionID != "" {
		sessionType = store.SessionGroup
	}
	botCanMute := cfg.EnableGroupAdmin && (botRole == store.RoleAdmin || botRole == store.RoleOwner)

	promptCtx := prompt.Context{
		ExpressionContext: expressionContext,
		MemoryContext:     topicContext + memoryContext,
		Environment: prompt.Environment{
			Now:       now,
			GroupName: groupInfo.GroupName,
			GroupSize: groupInfo.MemberCount,
			BotRole:   botRole,
			ChatType:  sessionType,
		},
		History:          history,
		TargetMessage:    targetMessage(msg, content, activeSessionID),
		PlannerThoughts:  opts.triggerReason,
		Persona:          cfg.Persona,
		PersonalityState: prompt.PickPersonalityState(cfg.Personality.States, cfg.Personality.StateProbability),
		ReplyStyle:       prompt.PickReplyStyle(cfg.ReplyStyle.BaseStyle, cfg.ReplyStyle.MultipleStyles, cfg.ReplyStyle.MultipleProbability),
		BotCanMute:       botCanMute,
		EnableGroupAdmin: cfg.EnableGroupAdmin,
		ExternalSkills:   d.externalSkillNames(cfg.EnableExternalSkills),
	}

	toolCtx := &toolcatalog.ToolContext{
		Gateway:              d.gateway,
		Store:                d.st,
		Skills:               d.skills,
		Listeners:            d.listeners,
		Session:              activeSessionID,
		GroupID:              msg.GroupID,
		UserID:               msg.UserID,
		BotRole:              botRole,
		EnableGroupAdmin:     cfg.EnableGroupAdmin,
		EnableExternalSkills: cfg.EnableExternalSkills,
		BotOwnerIDs:          cfg.BotOwnerIDs,
	}

	result, err := d.engine.RunChat(ctx, promptCtx, toolCtx)
	if err != nil {
		log.Printf("[WARN] dispatcher: chat engine: %v", err)
		return nil
	}

	d.emitOutbound(ctx, msg, cfg, result)

	if groupSessionID != "" {
		d.mu.Lock()
		d.followUpAt[followUpKey(msg.GroupID, msg.UserID)] = time.Now()
		d.mu.Unlock()
	}

	if result.EmojiPath != "" {
		if _, err := d.send(ctx, msg, []botgateway.Segment{botgateway.ImageSegment(result.EmojiPath)}); err != nil {
			log.Printf("[WARN] dispatcher: send emoji: %v", err)
		}
	}

	if groupSessionID != "" && d.freqController != nil {
		d.freqController.RecordSpeak(groupSessionID)
	}
	return nil
}

func (d *Dispatcher) tryEnterInFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[key] {
		return false
	}
	d.inFlight[key] = true
	return true
}

func (d *Dispatcher) leaveInFlight(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, key)
}

// extractContent builds the persisted message body: the raw text, prefixed
// with a quote-of-another-message marker when the inbound replies to any
// message GetMsg can resolve (the bot's own included), with image segments
// turned into placeholders.
func (d *Dispatcher) extractContent(ctx context.Context, msg botgateway.Message) string {
	text := plainText(msg)

	var placeholders []string
	for _, seg := range msg.Segments {
		if seg.Type == botgateway.SegmentImage {
			placeholders = append(placeholders, "[image]")
			if d.emojiSystem != nil {
				url := seg.Data["url"]
				if url == "" {
					url = seg.Data["file"]
				}
				if url != "" {
					go func(u string) {
						if err := d.emojiSystem.RegisterInboundImage(context.Background(), u); err != nil {
							log.Printf("[WARN] dispatcher: register inbound image: %v", err)
						}
					}(url)
				}
			}
		}
	}
	if len(placeholders) > 0 {
		text = strings.TrimSpace(text + " " + strings.Join(placeholders, " "))
	}

	if quotedID := quotedMessageID(msg); quotedID != "" {
		if quoted, err := d.gateway.GetMsg(ctx, quotedID); err == nil {
			text = fmt.Sprintf("[Quoting %s: %q] %s", quoted.UserName, quoted.RawText, text)
		}
	}
	return text
}

func (d *Dispatcher) fanOut(sessionID string, msg botgateway.Message, content string) {
	if d.expressionLrn != nil {
		go d.expressionLrn.OnMessage(sessionID, msg.UserID, msg.UserName, content)
	}
	if d.topicTracker != nil {
		go d.topicTracker.OnMessage(sessionID)
	}
}

func (d *Dispatcher) groupContext(ctx context.Context, groupID, botUID string) (botgateway.GroupInfo, store.UserRole) {
	if groupID == "" {
		return botgateway.GroupInfo{}, store.RoleMember
	}
	info, err := d.gateway.GetGroupInfo(ctx, groupID)
	if err != nil {
		log.Printf("[WARN] dispatcher: get group info: %v", err)
	}
	role := store.RoleMember
	if botUID != "" {
		if member, err := d.gateway.GetGroupMemberInfo(ctx, groupID, botUID); err == nil {
			role = store.UserRole(member.Role)
		}
	}
	return info, role
}

func (d *Dispatcher) topicContext(sessionID string) string {
	topics, err := d.st.GetTopics(sessionID, 5)
	if err != nil || len(topics) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range topics {
		fmt.Fprintf(&b, "- %s: %s\n", t.Title, t.Summary)
	}
	return b.String()
}

func (d *Dispatcher) externalSkillNames(enabled bool) []string {
	if !enabled || d.skills == nil {
		return nil
	}
	skillList := d.skills.List()
	names := make([]string, len(skillList))
	for i, s := range skillList {
		names[i] = s.Name
	}
	return names
}

// emitOutbound sends each of result.Messages as its own sequence of
// OneBot sends, one per non-empty line. Between lines of the same message
// and between messages, it sleeps a length-scaled typing delay
// (frequency.TypingDelay) capped at InterLineDelay/InterMessageDelay; a
// zero cap disables the pause entirely (used by tests). The pending
// quote/@ segments (from a tool call earlier in the chat engine loop) ride
// along with the very first line of the very first message.
func (d *Dispatcher) emitOutbound(ctx context.Context, msg botgateway.Message, cfg config.Config, result chatengine.Result) {
	typoCfg := cfg.ToTypoConfig()
	lineCap := d.InterLineDelay
	msgCap := d.InterMessageDelay

	for i, body := range result.Messages {
		lines := nonEmptyLines(body)
		if len(lines) == 0 {
			continue
		}
		for j, line := range lines {
			var segs []botgateway.Segment
			if i == 0 && j == 0 {
				if result.PendingQuote != "" {
					segs = append(segs, botgateway.ReplySegment(result.PendingQuote))
				}
				for _, at := range result.PendingAts {
					segs = append(segs, botgateway.AtSegment(at))
				}
			}
			segs = append(segs, botgateway.TextSegment(typo.Apply(line, typoCfg)))

			if _, err := d.send(ctx, msg, segs); err != nil {
				log.Printf("[WARN] dispatcher: send outbound: %v", err)
			}

			lastLineOfMessage := j == len(lines)-1
			lastMessage := i == len(result.Messages)-1
			switch {
			case !lastLineOfMessage && lineCap > 0:
				time.Sleep(frequency.TypingDelay(len([]rune(line)), lineCap))
			case lastLineOfMessage && !lastMessage && msgCap > 0:
				time.Sleep(frequency.TypingDelay(len([]rune(line)), msgCap))
			}
		}
	}
}

func nonEmptyLines(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func primaryNickname(nicknames []string) string {
	if len(nicknames) == 0 {
		return ""
	}
	return nicknames[0]
}

func targetMessage(msg botgateway.Message, content, sessionID string) store.Message {
	return store.Message{
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   content,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		GroupID:   msg.GroupID,
		Timestamp: msg.Time,
		MessageID: msg.MessageID,
	}
}

func (d *Dispatcher) send(ctx context.Context, msg botgateway.Message, segments []botgateway.Segment) (string, error) {
	if msg.GroupID != "" {
		return d.gateway.SendGroupMsg(ctx, msg.GroupID, segments)
	}
	return d.gateway.SendPrivateMsg(ctx, msg.UserID, segments)
}

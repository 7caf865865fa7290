// Package toolcatalog builds the fixed set of tools the chat engine
// exposes to the LLM on every request, bound to a request-scoped
// ToolContext, plus the visibility rules that hide admin/meta tools when
// the session doesn't qualify.
package toolcatalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/groupmind/groupmind/internal/botgateway"
	"github.com/groupmind/groupmind/internal/listener"
	"github.com/groupmind/groupmind/internal/skills"
	"github.com/groupmind/groupmind/internal/store"
)

// ToolContext is bound to one chat-engine run: the gateway, session
// identity, and the mutable aggregates the loop-level tools (at_user,
// quote_reply, end_session) write into.
type ToolContext struct {
	Gateway   botgateway.Gateway
	Store     *store.Store
	Skills    *skills.Registry
	Listeners *listener.Manager
	Session   string
	GroupID   string // empty outside a group
	UserID    string
	BotRole   store.UserRole

	EnableGroupAdmin     bool
	EnableExternalSkills bool
	BotOwnerIDs          []string

	PendingAts   []string
	PendingQuote string
	EndSession   bool
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// Build returns the fixed tool set bound to tc, applying the spec's
// visibility rules for admin and meta tools.
func Build(tc *ToolContext) []skills.Tool {
	tools := []skills.Tool{
		atUserTool(tc),
		quoteReplyTool(tc),
		endSessionTool(tc),
		reportAbuseTool(tc),
		pokeUserTool(tc),
		getGroupMemberInfoTool(tc),
		getGroupMemberListTool(tc),
		registerListenerTool(tc),
	}

	if tc.GroupID != "" && tc.EnableGroupAdmin && (tc.BotRole == store.RoleAdmin || tc.BotRole == store.RoleOwner) {
		tools = append(tools,
			autoMuteTool(tc),
			muteMemberTool(tc),
			kickMemberTool(tc),
			setMemberCardTool(tc),
			setMemberTitleTool(tc),
			toggleMuteAllTool(tc),
		)
	}

	if tc.EnableExternalSkills {
		tools = append(tools, loadSkillTool(tc), unloadSkillTool(tc))
	}

	return tools
}

func atUserTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "at_user",
		Description: "Queue an @-mention to attach to the next outbound message.",
		Parameters: objectSchema(map[string]string{"user_id": "the user id to mention"}, "user_id"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tc.PendingAts = append(tc.PendingAts, stringArg(args, "user_id"))
			return map[string]bool{"ok": true}, nil
		},
	}
}

func quoteReplyTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "quote_reply",
		Description: "Queue a quote segment referencing message_id for the next outbound message.",
		Parameters: objectSchema(map[string]string{"message_id": "the message id to quote"}, "message_id"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tc.PendingQuote = stringArg(args, "message_id")
			return map[string]bool{"ok": true}, nil
		},
	}
}

func endSessionTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "end_session",
		Description: "Terminate the conversation loop immediately without emitting anything.",
		Parameters: objectSchema(map[string]string{"reason": "optional reason"}),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tc.EndSession = true
			return map[string]bool{"ok": true}, nil
		},
	}
}

func reportAbuseTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "report_abuse",
		Description: "Report an abusive user to the bot owners via direct message.",
		Parameters: objectSchema(map[string]string{"user_id": "the abusive user's id", "reason": "why"}, "user_id", "reason"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			userID, reason := stringArg(args, "user_id"), stringArg(args, "reason")
			text := fmt.Sprintf("Abuse report from group %s: user %s — %s", tc.GroupID, userID, reason)
			for _, owner := range tc.BotOwnerIDs {
				if _, err := tc.Gateway.SendPrivateMsg(ctx, owner, []botgateway.Segment{botgateway.TextSegment(text)}); err != nil {
					return nil, fmt.Errorf("report_abuse: notify %s: %w", owner, err)
				}
			}
			return map[string]bool{"reported": true}, nil
		},
	}
}

func registerListenerTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "register_listener",
		Description: "Arm a one-shot wake-up for this session: fire on the next user message, or once a given number of messages have passed. At most one listener can be active per session, and firing starts a cooldown before another can be armed.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"wait_for":    map[string]interface{}{"type": "string", "enum": []string{"next_user_message", "message_count"}, "description": "what condition wakes the listener"},
				"user_id":     map[string]interface{}{"type": "string", "description": "optional: only this user's next message fires it (next_user_message only)"},
				"count":       map[string]interface{}{"type": "integer", "description": "how many messages to wait for (message_count only)"},
				"reason":      map[string]interface{}{"type": "string", "description": "why this listener is being armed, surfaced back as planner context when it fires"},
				"timeout_ms":  map[string]interface{}{"type": "integer", "description": "how long to stay armed before expiring silently, default 10 minutes, capped at 30"},
			},
			"required": []string{"wait_for"},
		},
		ReturnToAI: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			if tc.Listeners == nil {
				return nil, fmt.Errorf("register_listener: not available")
			}
			err := tc.Listeners.Register(listener.RegisterParams{
				SessionID:     tc.Session,
				Type:          listener.Type(stringArg(args, "wait_for")),
				UserID:        stringArg(args, "user_id"),
				Count:         intArg(args, "count"),
				Reason:        stringArg(args, "reason"),
				TimeoutMillis: intArg(args, "timeout_ms"),
			})
			if err != nil {
				return nil, err
			}
			return map[string]bool{"armed": true}, nil
		},
	}
}

func autoMuteTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "auto_mute",
		Description: "Mute a member for 60 seconds.",
		Parameters:  objectSchema(map[string]string{"user_id": "the member to mute"}, "user_id"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, tc.Gateway.SetGroupBan(ctx, tc.GroupID, stringArg(args, "user_id"), 60)
		},
	}
}

func muteMemberTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "mute_member",
		Description: "Mute a member for a given number of seconds.",
		Parameters:  objectSchema(map[string]string{"user_id": "the member to mute", "duration_s": "mute duration in seconds"}, "user_id", "duration_s"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, tc.Gateway.SetGroupBan(ctx, tc.GroupID, stringArg(args, "user_id"), intArg(args, "duration_s"))
		},
	}
}

func kickMemberTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "kick_member",
		Description: "Kick a member from the group.",
		Parameters:  objectSchema(map[string]string{"user_id": "the member to kick"}, "user_id"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, tc.Gateway.SetGroupKick(ctx, tc.GroupID, stringArg(args, "user_id"))
		},
	}
}

func setMemberCardTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "set_member_card",
		Description: "Set a member's group card (nickname within the group).",
		Parameters:  objectSchema(map[string]string{"user_id": "the member", "card": "the new card text"}, "user_id", "card"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, tc.Gateway.SetGroupCard(ctx, tc.GroupID, stringArg(args, "user_id"), stringArg(args, "card"))
		},
	}
}

func setMemberTitleTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "set_member_title",
		Description: "Set a member's special title. Owner-only.",
		Parameters:  objectSchema(map[string]string{"user_id": "the member", "title": "the new title"}, "user_id", "title"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			if tc.BotRole != store.RoleOwner {
				return nil, fmt.Errorf("set_member_title: requires owner role")
			}
			return nil, tc.Gateway.SetGroupSpecialTitle(ctx, tc.GroupID, stringArg(args, "user_id"), stringArg(args, "title"))
		},
	}
}

func toggleMuteAllTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "toggle_mute_all",
		Description: "Enable or disable whole-group mute.",
		Parameters:  objectSchema(map[string]string{"enable": "true to mute everyone, false to lift"}, "enable"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, tc.Gateway.SetGroupWholeBan(ctx, tc.GroupID, boolArg(args, "enable"))
		},
	}
}

func pokeUserTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "poke_user",
		Description: "Poke a user in the group.",
		Parameters:  objectSchema(map[string]string{"user_id": "the user to poke"}, "user_id"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, tc.Gateway.GroupPoke(ctx, tc.GroupID, stringArg(args, "user_id"))
		},
	}
}

func getGroupMemberInfoTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "get_group_member_info",
		Description: "Fetch a group member's profile info.",
		Parameters:  objectSchema(map[string]string{"user_id": "the member"}, "user_id"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return tc.Gateway.GetGroupMemberInfo(ctx, tc.GroupID, stringArg(args, "user_id"))
		},
	}
}

func getGroupMemberListTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "get_group_member_list",
		Description: "List the group's members, returning the first 50 and the total count.",
		Parameters:  objectSchema(nil),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			members, err := tc.Gateway.GetGroupMemberList(ctx, tc.GroupID)
			if err != nil {
				return nil, err
			}
			total := len(members)
			if len(members) > 50 {
				members = members[:50]
			}
			return map[string]interface{}{"members": members, "total": total}, nil
		},
	}
}

func loadSkillTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "load_skill",
		Description: "Load a named skill's tools into this session for one hour.",
		Parameters:  objectSchema(map[string]string{"skill_name": "the skill to load"}, "skill_name"),
		ReturnToAI:  true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			name := stringArg(args, "skill_name")
			if err := tc.Skills.LoadSkill(tc.Session, name); err != nil {
				return nil, err
			}
			return map[string]string{"loaded": name}, nil
		},
	}
}

func unloadSkillTool(tc *ToolContext) skills.Tool {
	return skills.Tool{
		Name:        "unload_skill",
		Description: "Unload a previously loaded skill from this session.",
		Parameters:  objectSchema(map[string]string{"skill_name": "the skill to unload"}, "skill_name"),
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tc.Skills.UnloadSkill(tc.Session, stringArg(args, "skill_name"))
			return map[string]bool{"ok": true}, nil
		},
	}
}

// objectSchema builds a JSON-schema object with string properties and the
// given required fields.
func objectSchema(props map[string]string, required ...string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, desc := range props {
		properties[name] = map[string]interface{}{"type": "string", "description": desc}
	}
	schema := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ParseArgs decodes a tool call's JSON arguments, defaulting to an empty
// object on failure.
func ParseArgs(argsJSON string) map[string]interface{} {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}

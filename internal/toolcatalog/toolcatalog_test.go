package toolcatalog

import (
	"context"
	"testing"

	"github.com/groupmind/groupmind/internal/botgateway"
	"github.com/groupmind/groupmind/internal/listener"
	"github.com/groupmind/groupmind/internal/skills"
	"github.com/groupmind/groupmind/internal/store"
)

type stubGateway struct {
	banned  []string
	kicked  []string
	privMsg []string
}

func (s *stubGateway) SendGroupMsg(ctx context.Context, groupID string, segments []botgateway.Segment) (string, error) {
	return "", nil
}
func (s *stubGateway) SendPrivateMsg(ctx context.Context, userID string, segments []botgateway.Segment) (string, error) {
	s.privMsg = append(s.privMsg, userID)
	return "", nil
}
func (s *stubGateway) GetMsg(ctx context.Context, messageID string) (botgateway.Message, error) {
	return botgateway.Message{}, nil
}
func (s *stubGateway) GetGroupInfo(ctx context.Context, groupID string) (botgateway.GroupInfo, error) {
	return botgateway.GroupInfo{}, nil
}
func (s *stubGateway) GetGroupMemberInfo(ctx context.Context, groupID, userID string) (botgateway.MemberInfo, error) {
	return botgateway.MemberInfo{}, nil
}
func (s *stubGateway) GetGroupMemberList(ctx context.Context, groupID string) ([]botgateway.MemberInfo, error) {
	members := make([]botgateway.MemberInfo, 60)
	for i := range members {
		members[i] = botgateway.MemberInfo{UserID: "u"}
	}
	return members, nil
}
func (s *stubGateway) GetGroupMsgHistory(ctx context.Context, groupID string, count int) ([]botgateway.Message, error) {
	return nil, nil
}
func (s *stubGateway) SetGroupBan(ctx context.Context, groupID, userID string, seconds int) error {
	s.banned = append(s.banned, userID)
	return nil
}
func (s *stubGateway) SetGroupKick(ctx context.Context, groupID, userID string) error {
	s.kicked = append(s.kicked, userID)
	return nil
}
func (s *stubGateway) SetGroupCard(ctx context.Context, groupID, userID, card string) error { return nil }
func (s *stubGateway) SetGroupSpecialTitle(ctx context.Context, groupID, userID, title string) error {
	return nil
}
func (s *stubGateway) SetGroupWholeBan(ctx context.Context, groupID string, enable bool) error { return nil }
func (s *stubGateway) GroupPoke(ctx context.Context, groupID, userID string) error             { return nil }

func findTool(tools []skills.Tool, name string) *skills.Tool {
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i]
		}
	}
	return nil
}

func TestBuildHidesAdminToolsOutsideGroup(t *testing.T) {
	tc := &ToolContext{EnableGroupAdmin: true, BotRole: store.RoleOwner}
	tools := Build(tc)
	if findTool(tools, "mute_member") != nil {
		t.Error("expected admin tools hidden outside a group")
	}
}

func TestBuildHidesAdminToolsWhenBotIsMember(t *testing.T) {
	tc := &ToolContext{GroupID: "g1", EnableGroupAdmin: true, BotRole: store.RoleMember}
	tools := Build(tc)
	if findTool(tools, "mute_member") != nil {
		t.Error("expected admin tools hidden when bot role is member")
	}
}

func TestBuildShowsAdminToolsForGroupAdmin(t *testing.T) {
	tc := &ToolContext{GroupID: "g1", EnableGroupAdmin: true, BotRole: store.RoleAdmin}
	tools := Build(tc)
	if findTool(tools, "mute_member") == nil {
		t.Error("expected admin tools visible for an admin bot in a group")
	}
	if findTool(tools, "set_member_title") == nil {
		t.Error("expected set_member_title listed (owner-only is enforced at call time, not visibility)")
	}
}

func TestBuildHidesMetaToolsWhenExternalSkillsDisabled(t *testing.T) {
	tc := &ToolContext{EnableExternalSkills: false}
	tools := Build(tc)
	if findTool(tools, "load_skill") != nil {
		t.Error("expected load_skill hidden when external skills disabled")
	}
}

func TestAtUserToolAppendsToPendingAts(t *testing.T) {
	tc := &ToolContext{}
	tool := findTool(Build(tc), "at_user")
	if tool == nil {
		t.Fatal("expected at_user tool present")
	}
	if _, err := tool.Handler(context.Background(), map[string]interface{}{"user_id": "u1"}); err != nil {
		t.Fatalf("at_user handler: %v", err)
	}
	if len(tc.PendingAts) != 1 || tc.PendingAts[0] != "u1" {
		t.Errorf("expected PendingAts=[u1], got %v", tc.PendingAts)
	}
}

func TestEndSessionToolSetsFlag(t *testing.T) {
	tc := &ToolContext{}
	tool := findTool(Build(tc), "end_session")
	if _, err := tool.Handler(context.Background(), nil); err != nil {
		t.Fatalf("end_session handler: %v", err)
	}
	if !tc.EndSession {
		t.Error("expected EndSession=true after calling end_session")
	}
}

func TestRegisterListenerToolWithoutManagerErrors(t *testing.T) {
	tc := &ToolContext{Session: "s1"}
	tool := findTool(Build(tc), "register_listener")
	if tool == nil {
		t.Fatal("expected register_listener tool present")
	}
	if _, err := tool.Handler(context.Background(), map[string]interface{}{"wait_for": "next_user_message"}); err == nil {
		t.Error("expected error when no listener manager is wired")
	}
}

func TestRegisterListenerToolArmsManager(t *testing.T) {
	mgr := listener.New()
	tc := &ToolContext{Session: "s1", Listeners: mgr}
	tool := findTool(Build(tc), "register_listener")
	result, err := tool.Handler(context.Background(), map[string]interface{}{
		"wait_for": "message_count",
		"count":    float64(2),
	})
	if err != nil {
		t.Fatalf("register_listener handler: %v", err)
	}
	armed, ok := result.(map[string]bool)
	if !ok || !armed["armed"] {
		t.Errorf("expected armed=true result, got %v", result)
	}
	if _, fired := mgr.OnMessage("s1", "u1"); fired {
		t.Error("expected listener not to fire after only one message")
	}
	if _, fired := mgr.OnMessage("s1", "u1"); !fired {
		t.Error("expected listener to fire after the second message")
	}
}

func TestSetMemberTitleRejectsNonOwner(t *testing.T) {
	gw := &stubGateway{}
	tc := &ToolContext{GroupID: "g1", EnableGroupAdmin: true, BotRole: store.RoleAdmin, Gateway: gw}
	tool := findTool(Build(tc), "set_member_title")
	if _, err := tool.Handler(context.Background(), map[string]interface{}{"user_id": "u1", "title": "VIP"}); err == nil {
		t.Error("expected error when bot role is admin, not owner")
	}
}

func TestGetGroupMemberListCapsAtFifty(t *testing.T) {
	gw := &stubGateway{}
	tc := &ToolContext{GroupID: "g1", Gateway: gw}
	tool := findTool(Build(tc), "get_group_member_list")
	result, err := tool.Handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("get_group_member_list handler: %v", err)
	}
	out := result.(map[string]interface{})
	if out["total"] != 60 {
		t.Errorf("expected total=60, got %v", out["total"])
	}
	if len(out["members"].([]botgateway.MemberInfo)) != 50 {
		t.Errorf("expected 50 members returned, got %d", len(out["members"].([]botgateway.MemberInfo)))
	}
}

func TestReportAbuseNotifiesAllOwners(t *testing.T) {
	gw := &stubGateway{}
	tc := &ToolContext{GroupID: "g1", Gateway: gw, BotOwnerIDs: []string{"owner1", "owner2"}}
	tool := findTool(Build(tc), "report_abuse")
	if _, err := tool.Handler(context.Background(), map[string]interface{}{"user_id": "u1", "reason": "spam"}); err != nil {
		t.Fatalf("report_abuse handler: %v", err)
	}
	if len(gw.privMsg) != 2 {
		t.Errorf("expected 2 owners notified, got %d", len(gw.privMsg))
	}
}

func TestParseArgsDefaultsToEmptyOnInvalidJSON(t *testing.T) {
	args := ParseArgs("not json")
	if len(args) != 0 {
		t.Errorf("expected empty map on invalid JSON, got %v", args)
	}
}

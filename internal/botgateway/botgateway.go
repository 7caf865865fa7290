// Package botgateway defines the bot-protocol client contract the
// dispatcher and tool catalog depend on, plus an OneBot-style HTTP
// implementation of it.
package botgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SegmentType names the kind of message segment.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentAt    SegmentType = "at"
	SegmentImage SegmentType = "image"
	SegmentReply SegmentType = "reply"
)

// Segment is one piece of an outbound or inbound message.
type Segment struct {
	Type SegmentType       `json:"type"`
	Data map[string]string `json:"data"`
}

// TextSegment builds a plain text segment.
func TextSegment(text string) Segment { return Segment{Type: SegmentText, Data: map[string]string{"text": text}} }

// AtSegment builds an @-mention segment.
func AtSegment(userID string) Segment { return Segment{Type: SegmentAt, Data: map[string]string{"qq": userID}} }

// ImageSegment builds an image segment from a local file path or URL.
func ImageSegment(fileOrURL string) Segment {
	return Segment{Type: SegmentImage, Data: map[string]string{"file": fileOrURL}}
}

// ReplySegment builds a quote-reply segment referencing messageID.
func ReplySegment(messageID string) Segment {
	return Segment{Type: SegmentReply, Data: map[string]string{"id": messageID}}
}

// Message is an inbound or fetched chat message.
type Message struct {
	MessageID string    `json:"message_id"`
	GroupID   string    `json:"group_id,omitempty"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Segments  []Segment `json:"segments"`
	RawText   string    `json:"raw_text"`
	Time      time.Time `json:"time"`
}

// GroupInfo describes a group's metadata.
type GroupInfo struct {
	GroupID     string `json:"group_id"`
	GroupName   string `json:"group_name"`
	MemberCount int    `json:"member_count"`
}

// MemberInfo describes a group member.
type MemberInfo struct {
	UserID   string `json:"user_id"`
	Card     string `json:"card"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"` // owner, admin, member
	Title    string `json:"title"`
}

// PokeNotice is a "someone poked the bot" notification.
type PokeNotice struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	TargetID string `json:"target_id"`
}

// Gateway is the bot-protocol contract the dispatcher and tool catalog use.
// An OneBot-style implementation is provided below, but any backend that
// satisfies this interface can be substituted.
type Gateway interface {
	SendGroupMsg(ctx context.Context, groupID string, segments []Segment) (messageID string, err error)
	SendPrivateMsg(ctx context.Context, userID string, segments []Segment) (messageID string, err error)
	GetMsg(ctx context.Context, messageID string) (Message, error)
	GetGroupInfo(ctx context.Context, groupID string) (GroupInfo, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID string) (MemberInfo, error)
	GetGroupMemberList(ctx context.Context, groupID string) ([]MemberInfo, error)
	GetGroupMsgHistory(ctx context.Context, groupID string, count int) ([]Message, error)
	SetGroupBan(ctx context.Context, groupID, userID string, seconds int) error
	SetGroupKick(ctx context.Context, groupID, userID string) error
	SetGroupCard(ctx context.Context, groupID, userID, card string) error
	SetGroupSpecialTitle(ctx context.Context, groupID, userID, title string) error
	SetGroupWholeBan(ctx context.Context, groupID string, enable bool) error
	GroupPoke(ctx context.Context, groupID, userID string) error
}

// OneBotClient talks to a OneBot v11-style HTTP API (the same action/params
// envelope used by go-cqhttp and its successors).
type OneBotClient struct {
	baseURL    string
	accessToken string
	http       *http.Client
}

// NewOneBotClient wires a client against the given HTTP API base URL.
func NewOneBotClient(baseURL, accessToken string) *OneBotClient {
	return &OneBotClient{baseURL: baseURL, accessToken: accessToken, http: &http.Client{Timeout: 15 * time.Second}}
}

type onebotResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
}

func (c *OneBotClient) call(ctx context.Context, action string, params map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("botgateway: marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("botgateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("botgateway: %s: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("botgateway: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("botgateway: %s: http %d: %s", action, resp.StatusCode, string(respBody))
	}

	var envelope onebotResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("botgateway: decode envelope: %w", err)
	}
	if envelope.Status == "failed" {
		return fmt.Errorf("botgateway: %s: retcode %d", action, envelope.RetCode)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *OneBotClient) SendGroupMsg(ctx context.Context, groupID string, segments []Segment) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.call(ctx, "send_group_msg", map[string]interface{}{"group_id": groupID, "message": segments}, &out)
	return out.MessageID, err
}

func (c *OneBotClient) SendPrivateMsg(ctx context.Context, userID string, segments []Segment) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.call(ctx, "send_private_msg", map[string]interface{}{"user_id": userID, "message": segments}, &out)
	return out.MessageID, err
}

func (c *OneBotClient) GetMsg(ctx context.Context, messageID string) (Message, error) {
	var out Message
	err := c.call(ctx, "get_msg", map[string]interface{}{"message_id": messageID}, &out)
	return out, err
}

func (c *OneBotClient) GetGroupInfo(ctx context.Context, groupID string) (GroupInfo, error) {
	var out GroupInfo
	err := c.call(ctx, "get_group_info", map[string]interface{}{"group_id": groupID}, &out)
	return out, err
}

func (c *OneBotClient) GetGroupMemberInfo(ctx context.Context, groupID, userID string) (MemberInfo, error) {
	var out MemberInfo
	err := c.call(ctx, "get_group_member_info", map[string]interface{}{"group_id": groupID, "user_id": userID}, &out)
	return out, err
}

func (c *OneBotClient) GetGroupMemberList(ctx context.Context, groupID string) ([]MemberInfo, error) {
	var out []MemberInfo
	err := c.call(ctx, "get_group_member_list", map[string]interface{}{"group_id": groupID}, &out)
	return out, err
}

func (c *OneBotClient) GetGroupMsgHistory(ctx context.Context, groupID string, count int) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.call(ctx, "get_group_msg_history", map[string]interface{}{"group_id": groupID, "count": count}, &out)
	return out.Messages, err
}

func (c *OneBotClient) SetGroupBan(ctx context.Context, groupID, userID string, seconds int) error {
	return c.call(ctx, "set_group_ban", map[string]interface{}{"group_id": groupID, "user_id": userID, "duration": seconds}, nil)
}

func (c *OneBotClient) SetGroupKick(ctx context.Context, groupID, userID string) error {
	return c.call(ctx, "set_group_kick", map[string]interface{}{"group_id": groupID, "user_id": userID}, nil)
}

func (c *OneBotClient) SetGroupCard(ctx context.Context, groupID, userID, card string) error {
	return c.call(ctx, "set_group_card", map[string]interface{}{"group_id": groupID, "user_id": userID, "card": card}, nil)
}

func (c *OneBotClient) SetGroupSpecialTitle(ctx context.Context, groupID, userID, title string) error {
	return c.call(ctx, "set_group_special_title", map[string]interface{}{"group_id": groupID, "user_id": userID, "special_title": title}, nil)
}

func (c *OneBotClient) SetGroupWholeBan(ctx context.Context, groupID string, enable bool) error {
	return c.call(ctx, "set_group_whole_ban", map[string]interface{}{"group_id": groupID, "enable": enable}, nil)
}

func (c *OneBotClient) GroupPoke(ctx context.Context, groupID, userID string) error {
	return c.call(ctx, "group_poke", map[string]interface{}{"group_id": groupID, "user_id": userID}, nil)
}

package botgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// OneBotWSClient implements Gateway over OneBot's forward-WebSocket action
// API: the bot framework dials out once to the client's action endpoint
// and multiplexes every action call/response pair over that one
// connection, tagged by an "echo" field, instead of issuing one HTTP POST
// per action. This is the outbound counterpart to internal/ingress's
// reverse-WebSocket event listener — together they let a deployment run
// the bot protocol entirely over persistent WS connections in both
// directions.
type OneBotWSClient struct {
	conn        *websocket.Conn
	accessToken string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	echoCounter int64

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Gateway = (*OneBotWSClient)(nil)

// DialOneBotWS dials the OneBot action WebSocket endpoint at wsURL and
// starts reading responses in the background.
func DialOneBotWS(wsURL, accessToken string) (*OneBotWSClient, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(map[string][]string)
	if accessToken != "" {
		header["Authorization"] = []string{"Bearer " + accessToken}
	}
	conn, _, err := dialer.Dial(wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("botgateway: dial %s: %w", wsURL, err)
	}
	c := &OneBotWSClient{
		conn:        conn,
		accessToken: accessToken,
		pending:     make(map[string]chan json.RawMessage),
		closed:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close terminates the connection and fails every call still waiting on a
// response.
func (c *OneBotWSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

func (c *OneBotWSClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			c.failAllPending()
			return
		}
		var envelope struct {
			Echo    string          `json:"echo"`
			Status  string          `json:"status"`
			RetCode int             `json:"retcode"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Echo == "" {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[envelope.Echo]
		delete(c.pending, envelope.Echo)
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		if envelope.Status == "failed" {
			ch <- nil
			close(ch)
			continue
		}
		ch <- envelope.Data
		close(ch)
	}
}

func (c *OneBotWSClient) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for echo, ch := range c.pending {
		close(ch)
		delete(c.pending, echo)
	}
}

func (c *OneBotWSClient) call(ctx context.Context, action string, params map[string]interface{}, out interface{}) error {
	echo := fmt.Sprintf("%d", atomic.AddInt64(&c.echoCounter, 1))
	frame, err := json.Marshal(map[string]interface{}{"action": action, "params": params, "echo": echo})
	if err != nil {
		return fmt.Errorf("botgateway: marshal %s: %w", action, err)
	}

	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
		return fmt.Errorf("botgateway: write %s: %w", action, writeErr)
	}

	select {
	case data, ok := <-ch:
		if !ok || data == nil {
			return fmt.Errorf("botgateway: %s: request failed", action)
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("botgateway: connection closed before %s returned", action)
	}
}

func (c *OneBotWSClient) SendGroupMsg(ctx context.Context, groupID string, segments []Segment) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.call(ctx, "send_group_msg", map[string]interface{}{"group_id": groupID, "message": segments}, &out)
	return out.MessageID, err
}

func (c *OneBotWSClient) SendPrivateMsg(ctx context.Context, userID string, segments []Segment) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.call(ctx, "send_private_msg", map[string]interface{}{"user_id": userID, "message": segments}, &out)
	return out.MessageID, err
}

func (c *OneBotWSClient) GetMsg(ctx context.Context, messageID string) (Message, error) {
	var out Message
	err := c.call(ctx, "get_msg", map[string]interface{}{"message_id": messageID}, &out)
	return out, err
}

func (c *OneBotWSClient) GetGroupInfo(ctx context.Context, groupID string) (GroupInfo, error) {
	var out GroupInfo
	err := c.call(ctx, "get_group_info", map[string]interface{}{"group_id": groupID}, &out)
	return out, err
}

func (c *OneBotWSClient) GetGroupMemberInfo(ctx context.Context, groupID, userID string) (MemberInfo, error) {
	var out MemberInfo
	err := c.call(ctx, "get_group_member_info", map[string]interface{}{"group_id": groupID, "user_id": userID}, &out)
	return out, err
}

func (c *OneBotWSClient) GetGroupMemberList(ctx context.Context, groupID string) ([]MemberInfo, error) {
	var out []MemberInfo
	err := c.call(ctx, "get_group_member_list", map[string]interface{}{"group_id": groupID}, &out)
	return out, err
}

func (c *OneBotWSClient) GetGroupMsgHistory(ctx context.Context, groupID string, count int) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.call(ctx, "get_group_msg_history", map[string]interface{}{"group_id": groupID, "count": count}, &out)
	return out.Messages, err
}

func (c *OneBotWSClient) SetGroupBan(ctx context.Context, groupID, userID string, seconds int) error {
	return c.call(ctx, "set_group_ban", map[string]interface{}{"group_id": groupID, "user_id": userID, "duration": seconds}, nil)
}

func (c *OneBotWSClient) SetGroupKick(ctx context.Context, groupID, userID string) error {
	return c.call(ctx, "set_group_kick", map[string]interface{}{"group_id": groupID, "user_id": userID}, nil)
}

func (c *OneBotWSClient) SetGroupCard(ctx context.Context, groupID, userID, card string) error {
	return c.call(ctx, "set_group_card", map[string]interface{}{"group_id": groupID, "user_id": userID, "card": card}, nil)
}

func (c *OneBotWSClient) SetGroupSpecialTitle(ctx context.Context, groupID, userID, title string) error {
	return c.call(ctx, "set_group_special_title", map[string]interface{}{"group_id": groupID, "user_id": userID, "special_title": title}, nil)
}

func (c *OneBotWSClient) SetGroupWholeBan(ctx context.Context, groupID string, enable bool) error {
	return c.call(ctx, "set_group_whole_ban", map[string]interface{}{"group_id": groupID, "enable": enable}, nil)
}

func (c *OneBotWSClient) GroupPoke(ctx context.Context, groupID, userID string) error {
	return c.call(ctx, "group_poke", map[string]interface{}{"group_id": groupID, "user_id": userID}, nil)
}

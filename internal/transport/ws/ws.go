// Package ws is the push channel over a websocket carrying JSON event
// frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/transport"
)

const (
	eventJoin         = "join-chat"
	eventSendMsg      = "send-msg"
	eventSendVoice    = "send-voice-msg"
	eventMsgReceive   = "msg-receive"
	eventVoiceReceive = "receive-voice-msg"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type inbound struct {
	ID        string     `json:"_id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Msg       string     `json:"msg"`
	AudioURL  string     `json:"audioUrl"`
	LocalKey  string     `json:"localKey"`
	CreatedAt *time.Time `json:"createdAt"`
}

type outbound struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Msg      string `json:"msg,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
	LocalKey string `json:"localKey,omitempty"`
}

// Client implements transport.Push. One Client serves one conversation
// session; it owns a single connection shared by Subscribe and Emit.
type Client struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
	wmu  sync.Mutex
}

func New(url string, log zerolog.Logger) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) write(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Subscribe joins selfID's channel and streams its events.
func (c *Client) Subscribe(ctx context.Context, selfID string) (transport.Subscription, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.write(conn, eventJoin, map[string]string{"userId": selfID}); err != nil {
		c.drop(conn)
		return nil, err
	}
	s := &subscription{
		client: c,
		conn:   conn,
		events: make(chan transport.Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (c *Client) Emit(ctx context.Context, out transport.Outgoing) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	msg := outbound{From: out.From, To: out.To, LocalKey: out.LocalKey}
	var event string
	switch out.Type {
	case transport.SendTextEvent:
		event, msg.Msg = eventSendMsg, out.Body
	case transport.SendVoiceEvent:
		event, msg.AudioURL = eventSendVoice, out.URL
	default:
		return fmt.Errorf("unknown outgoing event %q", out.Type)
	}
	if err := c.write(conn, event, msg); err != nil {
		c.drop(conn)
		return err
	}
	return nil
}

type subscription struct {
	client *Client
	conn   *websocket.Conn
	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan transport.Event { return s.events }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.client.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.client.wmu.Unlock()
		s.client.drop(s.conn)
	})
	return nil
}

func (s *subscription) readLoop() {
	defer close(s.events)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.client.log.Warn().Err(err).Msg("push channel read failed")
				}
				s.client.drop(s.conn)
			}
			return
		}
		ev, ok := s.client.translate(f)
		if !ok {
			s.client.log.Debug().Str("event", f.Event).Msg("ignoring push frame")
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (c *Client) translate(f frame) (transport.Event, bool) {
	var in inbound
	if err := json.Unmarshal(f.Data, &in); err != nil {
		c.log.Warn().Err(err).Str("event", f.Event).Msg("malformed push frame")
		return transport.Event{}, false
	}
	ev := transport.Event{From: in.From, To: in.To, LocalKey: in.LocalKey, ID: in.ID, At: c.now()}
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		ev.At = *in.CreatedAt
	}
	switch f.Event {
	case eventMsgReceive:
		ev.Type, ev.Body = transport.TextReceived, in.Msg
	case eventVoiceReceive:
		ev.Type, ev.URL = transport.VoiceReceived, in.AudioURL
	default:
		return transport.Event{}, false
	}
	return ev, true
}

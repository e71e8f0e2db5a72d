package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"workly/internal/app/services/chat"
	domainchat "workly/internal/domain/chat"
)

// ErrUnauthenticated means the server refused the bearer token.
var ErrUnauthenticated = errors.New("realtime: bearer token rejected")

type ClientConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Backoff is the reconnect schedule; the last entry repeats. Empty
	// disables reconnection.
	Backoff      []time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// ReadTimeout bounds silence from the server; server pings extend it.
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
}

// Client is the chat transport: one websocket bound to one acting identity.
type Client struct {
	cfg ClientConfig

	mu       sync.Mutex
	listener chat.Listener
	identity domainchat.Participant
	token    string
	state    chat.ConnState
	conn     *websocket.Conn
	epoch    uint64
	stop     chan struct{}
	pending  map[string]chan ackResult

	writeMu sync.Mutex
}

type ackResult struct {
	msg domainchat.Message
	err error
}

type notice struct {
	listener chat.Listener
	identity domainchat.Participant
	state    chat.ConnState
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 75 * time.Second
	}
	return &Client{cfg: cfg, pending: make(map[string]chan ackResult)}
}

func (c *Client) SetListener(l chat.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Client) State() chat.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool {
	return c.State() == chat.StateConnected
}

// Connect binds the socket to identity. Calling it again for the live
// identity is a no-op; another identity replaces the old connection.
func (c *Client) Connect(ctx context.Context, identity domainchat.Participant, token string) error {
	c.mu.Lock()
	if c.identity == identity && c.token == token && c.state != chat.StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	notes := []notice{c.teardownLocked()}
	c.epoch++
	epoch := c.epoch
	c.identity, c.token = identity, token
	c.stop = make(chan struct{})
	notes = append(notes, c.setStateLocked(chat.StateConnecting))
	c.mu.Unlock()
	c.notify(notes...)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dial(dialCtx, identity, token)
	cancel()
	if err != nil {
		c.dialFailed(epoch, err)
		return err
	}
	if !c.install(epoch, identity, conn) {
		return domainchat.ErrNotConnected
	}
	return nil
}

// Disconnect closes the socket and stops reconnecting. It is safe to call
// when already disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	n := c.teardownLocked()
	c.epoch++
	c.mu.Unlock()
	c.notify(n)
	return nil
}

func (c *Client) SendMessage(ctx context.Context, req chat.SendRequest) (domainchat.Message, error) {
	if req.ClientID == "" {
		return domainchat.Message{}, fmt.Errorf("%w: client id is required", domainchat.ErrMalformedPayload)
	}
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	conn := c.conn
	if c.state != chat.StateConnected || conn == nil {
		c.mu.Unlock()
		return domainchat.Message{}, domainchat.ErrNotConnected
	}
	if prev, ok := c.pending[req.ClientID]; ok {
		prev <- ackResult{err: domainchat.ErrNotConnected}
	}
	c.pending[req.ClientID] = ch
	c.mu.Unlock()

	payload := SendMessagePayload{ConversationID: req.ConversationID, Content: req.Content, ClientID: req.ClientID}
	if err := c.write(conn, EventSendMessage, payload); err != nil {
		c.dropPending(req.ClientID, ch)
		return domainchat.Message{}, fmt.Errorf("%w: %v", domainchat.ErrNotConnected, err)
	}
	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		c.dropPending(req.ClientID, ch)
		return domainchat.Message{}, ctx.Err()
	}
}

func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	return c.emit(EventJoinConversation, ConversationPayload{ConversationID: conversationID})
}

func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.emit(EventLeaveConversation, ConversationPayload{ConversationID: conversationID})
}

func (c *Client) StartTyping(ctx context.Context, conversationID string) error {
	return c.emit(EventTypingStart, ConversationPayload{ConversationID: conversationID})
}

func (c *Client) StopTyping(ctx context.Context, conversationID string) error {
	return c.emit(EventTypingStop, ConversationPayload{ConversationID: conversationID})
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.emit(EventMarkRead, ConversationPayload{ConversationID: conversationID})
}

func (c *Client) emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == chat.StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return domainchat.ErrNotConnected
	}
	if err := c.write(conn, event, payload); err != nil {
		return fmt.Errorf("%w: %v", domainchat.ErrNotConnected, err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, event string, payload any) error {
	raw, err := Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) dial(ctx context.Context, identity domainchat.Participant, token string) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainchat.ErrNotConnected, err)
	}
	q := u.Query()
	q.Set("identity_type", string(identity.Type))
	q.Set("identity_id", identity.ID)
	u.RawQuery = q.Encode()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusForbidden:
				return nil, domainchat.ErrIdentityNotAuthorized
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("%w: %w", domainchat.ErrNotConnected, ErrUnauthenticated)
			}
		}
		return nil, fmt.Errorf("%w: %v", domainchat.ErrNotConnected, err)
	}
	return conn, nil
}

func (c *Client) install(epoch uint64, identity domainchat.Participant, conn *websocket.Conn) bool {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	n := c.setStateLocked(chat.StateConnected)
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go c.readLoop(epoch, identity, conn)
	c.notify(n)
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("chat socket connected", "identity", identity.Key())
	}
	return true
}

func (c *Client) dialFailed(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	n := c.setStateLocked(chat.StateDisconnected)
	stop := c.stop
	c.mu.Unlock()
	c.notify(n)
	if retryable(err) {
		c.startReconnect(epoch, stop)
	}
}

func (c *Client) readLoop(epoch uint64, identity domainchat.Participant, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropped(epoch, conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		env, err := Decode(raw)
		if err != nil {
			c.warn("dropping malformed frame", "error", err)
			continue
		}
		if err := c.dispatch(identity, env); err != nil {
			c.warn("dropping malformed frame", "event", env.Event, "error", err)
		}
	}
}

func (c *Client) dispatch(identity domainchat.Participant, env Envelope) error {
	switch env.Event {
	case EventMessageAck:
		var p AckPayload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		c.resolve(p.ClientID, ackResult{msg: p.Message})
		return nil
	case EventMessageError:
		var p ErrorPayload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		c.resolve(p.ClientID, ackResult{err: p.Err()})
		return nil
	}

	var ev chat.Inbound
	switch env.Event {
	case EventNewMessage:
		var p NewMessagePayload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		if p.Message.ID == "" || p.Message.ConversationID == "" {
			return fmt.Errorf("%w: message without id", domainchat.ErrMalformedPayload)
		}
		ev = chat.MessageReceived{Message: p.Message, Conversation: p.Conversation}
	case EventTypingStart, EventTypingStop:
		var p TypingPayload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		ev = chat.TypingChanged{ConversationID: p.ConversationID, Participant: p.Participant, Typing: env.Event == EventTypingStart}
	case EventMessagesRead:
		var p ReadPayload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		ev = chat.MessagesRead{ConversationID: p.ConversationID, Reader: p.Reader, MessageIDs: p.MessageIDs, ReadAt: p.ReadAt}
	case EventParticipantOnline, EventParticipantOffline:
		var p PresencePayload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		ev = chat.PresenceChanged{Participant: p.Participant, Online: env.Event == EventParticipantOnline}
	default:
		if c.cfg.Logger != nil {
			c.cfg.Logger.Debug("ignoring unknown event", "event", env.Event)
		}
		return nil
	}

	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnInbound(identity, ev)
	}
	return nil
}

func (c *Client) resolve(clientID string, res ackResult) {
	c.mu.Lock()
	ch, ok := c.pending[clientID]
	delete(c.pending, clientID)
	c.mu.Unlock()
	if ok {
		ch <- res
	} else if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("ack for unknown send", "client_id", clientID)
	}
}

func (c *Client) dropPending(clientID string, ch chan ackResult) {
	c.mu.Lock()
	if c.pending[clientID] == ch {
		delete(c.pending, clientID)
	}
	c.mu.Unlock()
}

func (c *Client) dropped(epoch uint64, conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if epoch != c.epoch || c.conn != conn {
		c.mu.Unlock()
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.failPendingLocked()
	n := c.setStateLocked(chat.StateDisconnected)
	stop := c.stop
	c.mu.Unlock()
	c.notify(n)
	c.warn("chat socket dropped", "error", cause)
	c.startReconnect(epoch, stop)
}

func (c *Client) startReconnect(epoch uint64, stop chan struct{}) {
	if len(c.cfg.Backoff) == 0 || stop == nil {
		return
	}
	go c.reconnect(epoch, stop)
}

func (c *Client) reconnect(epoch uint64, stop chan struct{}) {
	for attempt := 0; ; attempt++ {
		delay := c.cfg.Backoff[len(c.cfg.Backoff)-1]
		if attempt < len(c.cfg.Backoff) {
			delay = c.cfg.Backoff[attempt]
		}
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if epoch != c.epoch || c.state != chat.StateDisconnected {
			c.mu.Unlock()
			return
		}
		identity, token := c.identity, c.token
		n := c.setStateLocked(chat.StateConnecting)
		c.mu.Unlock()
		c.notify(n)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		conn, err := c.dial(ctx, identity, token)
		cancel()
		if err == nil {
			c.install(epoch, identity, conn)
			return
		}

		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		n = c.setStateLocked(chat.StateDisconnected)
		c.mu.Unlock()
		c.notify(n)
		c.warn("chat reconnect failed", "attempt", attempt+1, "error", err)
		if !retryable(err) {
			return
		}
	}
}

// teardownLocked closes the current socket and fails pending sends.
func (c *Client) teardownLocked() notice {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.failPendingLocked()
	return c.setStateLocked(chat.StateDisconnected)
}

func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		ch <- ackResult{err: domainchat.ErrNotConnected}
		delete(c.pending, id)
	}
}

func (c *Client) setStateLocked(s chat.ConnState) notice {
	if c.state == s {
		return notice{}
	}
	c.state = s
	return notice{listener: c.listener, identity: c.identity, state: s}
}

func (c *Client) notify(notes ...notice) {
	for _, n := range notes {
		if n.listener != nil {
			n.listener.OnStateChange(n.identity, n.state)
		}
	}
}

func (c *Client) warn(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, args...)
	}
}

func retryable(err error) bool {
	return !errors.Is(err, domainchat.ErrIdentityNotAuthorized) && !errors.Is(err, ErrUnauthenticated)
}

var _ chat.Transport = (*Client)(nil)

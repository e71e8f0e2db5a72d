package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"workly/internal/app/dto"
	"workly/internal/app/services/messaging"
	domainchat "workly/internal/domain/chat"
)

// HubMetrics is satisfied by obs.Metrics.
type HubMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	WSEvent(name string)
	MessageSent()
	MessageRejected()
}

// Hub fans chat events out to connected participants. A participant may
// hold several sockets; rooms scope typing indicators to open conversations.
type Hub struct {
	Service      *messaging.Service
	Logger       *slog.Logger
	Metrics      HubMetrics
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	SendBuffer   int

	mu    sync.RWMutex
	conns map[domainchat.Participant]map[*peer]struct{}
	rooms map[string]map[*peer]struct{}
}

type peer struct {
	participant domainchat.Participant
	ws          *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func NewHub(svc *messaging.Service, logger *slog.Logger, metrics HubMetrics) *Hub {
	return &Hub{
		Service: svc,
		Logger:  logger,
		Metrics: metrics,
		conns:   make(map[domainchat.Participant]map[*peer]struct{}),
		rooms:   make(map[string]map[*peer]struct{}),
	}
}

// Serve runs one upgraded connection for p until it closes.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, p domainchat.Participant) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	pr := &peer{
		participant: p,
		ws:          ws,
		send:        make(chan []byte, h.sendBuffer()),
		done:        make(chan struct{}),
	}
	first := h.register(pr)
	if h.Metrics != nil {
		h.Metrics.ConnectionOpened()
		defer h.Metrics.ConnectionClosed()
	}
	if h.Logger != nil {
		h.Logger.Info("chat socket opened", "participant", p.Key())
	}

	writerDone := make(chan struct{})
	go func() {
		h.writePump(pr)
		close(writerDone)
	}()
	if first {
		h.announce(ctx, p, EventParticipantOnline)
	}
	h.greet(ctx, pr)

	h.readPump(ctx, pr)

	last := h.unregister(pr)
	pr.close()
	<-writerDone
	_ = ws.Close()
	if last {
		h.announce(ctx, p, EventParticipantOffline)
	}
	if h.Logger != nil {
		h.Logger.Info("chat socket closed", "participant", p.Key())
	}
}

// Online reports whether p has at least one open socket.
func (h *Hub) Online(p domainchat.Participant) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[p]) > 0
}

// PublishRead tells both sides that reader caught up.
func (h *Hub) PublishRead(res messaging.ReadResult) {
	if len(res.MessageIDs) == 0 && res.ReadAt.IsZero() {
		return
	}
	h.deliver(EventMessagesRead, ReadPayload{
		ConversationID: res.ConversationID,
		Reader:         res.Reader,
		ReadAt:         res.ReadAt,
		MessageIDs:     res.MessageIDs,
	}, res.Reader, res.Other)
}

// PublishMessage pushes a stored message to every socket of both sides.
func (h *Hub) PublishMessage(res messaging.SendResult) {
	conv := res.Conversation
	h.deliver(EventNewMessage, NewMessagePayload{Message: res.Message, Conversation: &conv}, res.Message.Sender, res.Recipient)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.conns {
		for pr := range set {
			pr.close()
		}
	}
}

func (h *Hub) readPump(ctx context.Context, pr *peer) {
	pr.ws.SetReadLimit(64 << 10)
	_ = pr.ws.SetReadDeadline(time.Now().Add(h.readTimeout()))
	pr.ws.SetPongHandler(func(string) error {
		return pr.ws.SetReadDeadline(time.Now().Add(h.readTimeout()))
	})
	for {
		_, raw, err := pr.ws.ReadMessage()
		if err != nil {
			if h.Logger != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Debug("chat socket read failed", "participant", pr.participant.Key(), "error", err)
			}
			return
		}
		_ = pr.ws.SetReadDeadline(time.Now().Add(h.readTimeout()))
		env, err := Decode(raw)
		if err != nil {
			h.reject(pr, "", "", err)
			continue
		}
		if h.Metrics != nil {
			h.Metrics.WSEvent(env.Event)
		}
		h.handle(ctx, pr, env)
	}
}

func (h *Hub) handle(ctx context.Context, pr *peer, env Envelope) {
	me := pr.participant
	switch env.Event {
	case EventSendMessage:
		var p SendMessagePayload
		if err := env.DecodeData(&p); err != nil {
			h.reject(pr, "", "", err)
			return
		}
		res, err := h.Service.Send(ctx, me, messaging.SendInput{
			ConversationID: p.ConversationID,
			Content:        p.Content,
			ClientID:       p.ClientID,
		})
		if err != nil {
			if h.Metrics != nil {
				h.Metrics.MessageRejected()
			}
			h.reject(pr, p.ClientID, p.ConversationID, err)
			return
		}
		h.enqueueEvent(pr, EventMessageAck, AckPayload{ClientID: p.ClientID, Message: res.Message})
		if res.Duplicate {
			return
		}
		if h.Metrics != nil {
			h.Metrics.MessageSent()
		}
		h.PublishMessage(res)

	case EventJoinConversation:
		var p ConversationPayload
		if err := env.DecodeData(&p); err != nil {
			h.reject(pr, "", "", err)
			return
		}
		if _, err := h.Service.Get(ctx, me, p.ConversationID); err != nil {
			h.reject(pr, "", p.ConversationID, err)
			return
		}
		h.join(pr, p.ConversationID)

	case EventLeaveConversation:
		var p ConversationPayload
		if err := env.DecodeData(&p); err != nil {
			h.reject(pr, "", "", err)
			return
		}
		h.leave(pr, p.ConversationID)

	case EventTypingStart, EventTypingStop:
		var p ConversationPayload
		if err := env.DecodeData(&p); err != nil {
			h.reject(pr, "", "", err)
			return
		}
		h.relayTyping(pr, env.Event, p.ConversationID)

	case EventMarkRead:
		var p ConversationPayload
		if err := env.DecodeData(&p); err != nil {
			h.reject(pr, "", "", err)
			return
		}
		res, err := h.Service.MarkRead(ctx, me, p.ConversationID)
		if err != nil {
			h.reject(pr, "", p.ConversationID, err)
			return
		}
		h.PublishRead(res)

	default:
		if h.Logger != nil {
			h.Logger.Debug("ignoring unknown event", "event", env.Event, "participant", me.Key())
		}
	}
}

func (h *Hub) reject(pr *peer, clientID, conversationID string, err error) {
	if h.Logger != nil {
		h.Logger.Debug("chat event rejected", "participant", pr.participant.Key(), "conversation_id", conversationID, "error", err)
	}
	h.enqueueEvent(pr, EventMessageError, ErrorPayload{
		ClientID:       clientID,
		ConversationID: conversationID,
		Code:           dto.ErrorCode(err),
		Error:          err.Error(),
	})
}

func (h *Hub) relayTyping(pr *peer, event, conversationID string) {
	raw, err := Encode(event, TypingPayload{ConversationID: conversationID, Participant: pr.participant})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[conversationID]
	if _, joined := room[pr]; !joined {
		return
	}
	for other := range room {
		if other.participant != pr.participant {
			h.enqueue(other, raw)
		}
	}
}

func (h *Hub) announce(ctx context.Context, p domainchat.Participant, event string) {
	partners, err := h.Service.Partners(ctx, p)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("presence lookup failed", "participant", p.Key(), "error", err)
		}
		return
	}
	h.deliver(event, PresencePayload{Participant: p}, partners...)
}

// greet tells a new socket which of its partners are already online.
func (h *Hub) greet(ctx context.Context, pr *peer) {
	partners, err := h.Service.Partners(ctx, pr.participant)
	if err != nil {
		return
	}
	for _, other := range partners {
		if h.Online(other) {
			h.enqueueEvent(pr, EventParticipantOnline, PresencePayload{Participant: other})
		}
	}
}

func (h *Hub) deliver(event string, payload any, targets ...domainchat.Participant) {
	raw, err := Encode(event, payload)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("encode event failed", "event", event, "error", err)
		}
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[domainchat.Participant]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		for pr := range h.conns[t] {
			h.enqueue(pr, raw)
		}
	}
}

func (h *Hub) enqueueEvent(pr *peer, event string, payload any) {
	raw, err := Encode(event, payload)
	if err != nil {
		return
	}
	h.enqueue(pr, raw)
}

// enqueue never blocks; a peer that cannot keep up is disconnected.
func (h *Hub) enqueue(pr *peer, raw []byte) {
	select {
	case <-pr.done:
	case pr.send <- raw:
	default:
		if h.Logger != nil {
			h.Logger.Warn("dropping slow chat socket", "participant", pr.participant.Key())
		}
		pr.close()
	}
}

func (h *Hub) writePump(pr *peer) {
	ticker := time.NewTicker(h.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case raw := <-pr.send:
			_ = pr.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if err := pr.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				pr.close()
				_ = pr.ws.Close()
				return
			}
		case <-ticker.C:
			_ = pr.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if err := pr.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				pr.close()
				_ = pr.ws.Close()
				return
			}
		case <-pr.done:
			_ = pr.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = pr.ws.Close()
			return
		}
	}
}

func (h *Hub) register(pr *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[pr.participant]
	if !ok {
		set = make(map[*peer]struct{})
		h.conns[pr.participant] = set
	}
	set[pr] = struct{}{}
	return len(set) == 1
}

func (h *Hub) unregister(pr *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, room := range h.rooms {
		delete(room, pr)
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
	set := h.conns[pr.participant]
	delete(set, pr)
	if len(set) == 0 {
		delete(h.conns, pr.participant)
		return true
	}
	return false
}

func (h *Hub) join(pr *peer, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*peer]struct{})
		h.rooms[conversationID] = room
	}
	room[pr] = struct{}{}
}

func (h *Hub) leave(pr *peer, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[conversationID]
	delete(room, pr)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

func (h *Hub) sendBuffer() int {
	if h.SendBuffer <= 0 {
		return 64
	}
	return h.SendBuffer
}

func (h *Hub) pingInterval() time.Duration {
	if h.PingInterval <= 0 {
		return 25 * time.Second
	}
	return h.PingInterval
}

func (h *Hub) writeTimeout() time.Duration {
	if h.WriteTimeout <= 0 {
		return 10 * time.Second
	}
	return h.WriteTimeout
}

func (h *Hub) readTimeout() time.Duration {
	if h.ReadTimeout <= 0 {
		return 60 * time.Second
	}
	return h.ReadTimeout
}

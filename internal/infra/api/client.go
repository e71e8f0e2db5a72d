package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"workly/internal/app/dto"
	"workly/internal/app/services/chat"
	domainchat "workly/internal/domain/chat"
)

type Config struct {
	BaseURL     string
	CallTimeout time.Duration
	HTTPClient  *http.Client
	Tokens      chat.TokenSource
	Logger      *slog.Logger
}

// Client is the chat REST backend as seen from the client core.
type Client struct {
	base        *url.URL
	http        *http.Client
	callTimeout time.Duration
	tokens      chat.TokenSource
	logger      *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api: base url required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: base url: %w", err)
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: base, http: hc, callTimeout: callTimeout, tokens: cfg.Tokens, logger: cfg.Logger}, nil
}

func (c *Client) ListConversations(ctx context.Context, as domainchat.Participant, page chat.PageRequest) (chat.ConversationPage, error) {
	var out dto.ConversationList
	if err := c.do(ctx, &as, http.MethodGet, "/api/v1/chat/conversations", pageQuery(page), nil, &out); err != nil {
		return chat.ConversationPage{}, err
	}
	return chat.ConversationPage{Items: out.Items, Page: out.Page, HasMore: out.HasMore}, nil
}

func (c *Client) CreateOrGetConversation(ctx context.Context, as, other domainchat.Participant) (domainchat.Conversation, error) {
	body := dto.StartConversationRequest{ParticipantID: other.ID, ParticipantType: string(other.Type)}
	var out domainchat.Conversation
	if err := c.do(ctx, &as, http.MethodPost, "/api/v1/chat/conversations", nil, body, &out); err != nil {
		return domainchat.Conversation{}, err
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, as domainchat.Participant, conversationID string) (domainchat.Conversation, error) {
	var out domainchat.Conversation
	if err := c.do(ctx, &as, http.MethodGet, "/api/v1/chat/conversations/"+url.PathEscape(conversationID), nil, nil, &out); err != nil {
		return domainchat.Conversation{}, err
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, as domainchat.Participant, conversationID string) (domainchat.Conversation, error) {
	var out domainchat.Conversation
	if err := c.do(ctx, &as, http.MethodDelete, "/api/v1/chat/conversations/"+url.PathEscape(conversationID), nil, nil, &out); err != nil {
		return domainchat.Conversation{}, err
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, as domainchat.Participant, conversationID string, page chat.PageRequest) (chat.MessagePage, error) {
	var out dto.MessageList
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, &as, http.MethodGet, path, pageQuery(page), nil, &out); err != nil {
		return chat.MessagePage{}, err
	}
	return chat.MessagePage{Items: out.Items, Page: out.Page, HasMore: out.HasMore}, nil
}

// MarkRead is the REST fallback for the socket mark_read event.
func (c *Client) MarkRead(ctx context.Context, as domainchat.Participant, conversationID string) (dto.ReadReceipts, error) {
	var out dto.ReadReceipts
	path := "/api/v1/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, &as, http.MethodPost, path, nil, nil, &out); err != nil {
		return dto.ReadReceipts{}, err
	}
	return out, nil
}

func (c *Client) Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error) {
	var path string
	switch p.Type {
	case domainchat.ParticipantUser:
		path = "/api/v1/users/" + url.PathEscape(p.ID)
	case domainchat.ParticipantCompany:
		path = "/api/v1/companies/" + url.PathEscape(p.ID)
	default:
		return domainchat.Profile{}, fmt.Errorf("%w: %q", domainchat.ErrInvalidParticipantType, p.Type)
	}
	var out domainchat.Profile
	err := c.do(ctx, nil, http.MethodGet, path, nil, nil, &out)
	if errors.Is(err, domainchat.ErrProfileNotFound) {
		return domainchat.DeletedProfile(p), nil
	}
	if err != nil {
		return domainchat.Profile{}, err
	}
	if out.Participant.IsZero() {
		out.Participant = p
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, as *domainchat.Participant, method, path string, query url.Values, body, out any) error {
	callCtx, cancel := c.wrapCall(ctx)
	defer cancel()

	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(callCtx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		req.Header.Set("X-Identity-Type", string(as.Type))
		req.Header.Set("X-Identity-ID", as.ID)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(callCtx)
		if err != nil {
			return fmt.Errorf("api: token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domainchat.ErrNotConnected, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.decodeError(resp, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", domainchat.ErrMalformedPayload, method, path, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response, method, path string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body dto.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Code != "" {
		return dto.ErrorFromCode(body.Code, body.Error)
	}
	msg := strings.TrimSpace(body.Error)
	if msg == "" {
		msg = resp.Status
	}
	if c.logger != nil {
		c.logger.Debug("chat api error", "method", method, "path", path, "status", resp.StatusCode, "error", msg)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		if strings.HasPrefix(path, "/api/v1/users/") || strings.HasPrefix(path, "/api/v1/companies/") {
			return fmt.Errorf("%w: %s", domainchat.ErrProfileNotFound, msg)
		}
		return fmt.Errorf("%w: %s", domainchat.ErrConversationNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", domainchat.ErrIdentityNotAuthorized, msg)
	default:
		return fmt.Errorf("%w: %s %s: %s", dto.ErrRemote, method, path, msg)
	}
}

// wrapCall bounds every request by the configured call timeout.
func (c *Client) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func pageQuery(p chat.PageRequest) url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

var _ chat.Backend = (*Client)(nil)

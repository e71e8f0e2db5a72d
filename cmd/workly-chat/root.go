package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workly/internal/app/services/chat"
	"workly/internal/infra/api"
	"workly/internal/infra/config"
	"workly/internal/infra/obs"
	"workly/internal/infra/realtime"
	"workly/internal/infra/security"
	"workly/internal/infra/storage/local"
)

type options struct {
	asCompany string
	token     string
	apiURL    string
	wait      time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "workly-chat",
		Short:         "Workly chat from the terminal",
		Long:          "workly-chat talks to a chatd server as a user or, with --as-company, as a company the user manages.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&opts.asCompany, "as-company", "", "act as this company instead of the personal identity")
	flags.StringVar(&opts.token, "token", "", "bearer token (default $CHAT_TOKEN)")
	flags.StringVar(&opts.apiURL, "api", "", "chatd base url (default $CHAT_API_URL)")
	flags.DurationVar(&opts.wait, "wait", 5*time.Second, "how long to wait for the realtime connection")

	root.AddCommand(
		newTokenCmd(),
		newConversationsCmd(opts),
		newStartCmd(opts),
		newHistoryCmd(opts),
		newSendCmd(opts),
		newReadCmd(opts),
		newDeleteCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// client is one signed-in chat session for the duration of a command.
type client struct {
	store   *chat.Store
	session *chat.Session
	facade  *chat.Facade
	logger  *slog.Logger
	closers []func() error
}

func (c *client) Close() error {
	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Close())
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func openClient(ctx context.Context, opts *options) (*client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if opts.apiURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.apiURL, "/")
		cfg.WSURL = config.WebsocketURL(cfg.BaseURL)
	}
	if opts.token != "" {
		cfg.Token = opts.token
	}
	if cfg.Token == "" {
		return nil, errors.New("no token: pass --token or set CHAT_TOKEN (see workly-chat token)")
	}
	if cfg.UserID == "" {
		if cfg.UserID, err = security.SubjectOf(cfg.Token); err != nil {
			return nil, err
		}
	}

	logger := obs.NewLoggerTo(os.Stderr, cfg.Env, cfg.LogLevel)
	c := &client{logger: logger}

	tombstones, err := local.OpenTombstones(filepath.Join(cfg.DataDir, "tombstones"))
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, tombstones.Close)

	tokens := chat.StaticToken(cfg.Token)
	backend, err := api.NewClient(api.Config{BaseURL: cfg.BaseURL, CallTimeout: cfg.CallTimeout, Tokens: tokens, Logger: logger})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	transport := realtime.NewClient(realtime.ClientConfig{
		URL:         cfg.WSURL,
		Backoff:     cfg.RetryBackoff,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger,
	})
	store, err := chat.NewStore(chat.Config{
		Backend:      backend,
		Transport:    transport,
		Tombstones:   tombstones,
		Logger:       logger,
		TypingWindow: cfg.TypingWindow,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.store = store
	c.session = chat.NewSession(store, tokens)

	if err := c.session.ActAsPersonal(ctx, cfg.UserID); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.facade = store.Personal(cfg.UserID)
	if opts.asCompany != "" {
		if err := c.session.ActAsCompany(ctx, opts.asCompany); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("act as company %s: %w", opts.asCompany, err)
		}
		c.facade = store.Company(opts.asCompany)
	}
	return c, nil
}

// waitConnected blocks until the socket is up or d elapses.
func (c *client) waitConnected(ctx context.Context, d time.Duration) error {
	if c.store.Connected() {
		return nil
	}
	ready := make(chan struct{}, 1)
	cancel := c.store.Subscribe(func(ch chat.Change) {
		if ch.Kind == chat.ChangeConnection && c.store.Connected() {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()
	if c.store.Connected() {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("realtime connection not established after %s", d)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// findConversation pages the inbox until id is loaded.
func (c *client) findConversation(ctx context.Context, id string) error {
	if _, ok := c.facade.Conversation(id); ok {
		return nil
	}
	for page := 1; ; page++ {
		res, err := c.facade.LoadConversations(ctx, chat.PageRequest{Page: page, Limit: 50})
		if err != nil {
			return err
		}
		if _, ok := c.facade.Conversation(id); ok {
			return nil
		}
		if !res.HasMore {
			return fmt.Errorf("conversation %s: not found", id)
		}
	}
}

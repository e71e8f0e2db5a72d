package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workly/internal/app/services/chat"
	domainchat "workly/internal/domain/chat"
	"workly/internal/infra/config"
	"workly/internal/infra/security"
)

func newTokenCmd() *cobra.Command {
	var companies []string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development token with the shared JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			tokens := security.Tokens{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, TTL: cfg.TokenTTL}
			raw, err := tokens.Issue(args[0], companies)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&companies, "companies", nil, "company ids the user may act for")
	return cmd
}

func newConversationsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, _ []string) error {
			if _, err := c.facade.LoadConversations(ctx, chat.PageRequest{Page: 1, Limit: limit}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			convs := c.facade.Conversations()
			if len(convs) == 0 {
				fmt.Fprintln(out, "no conversations")
				return nil
			}
			for _, conv := range convs {
				printConversation(ctx, out, c.facade, conv)
			}
			fmt.Fprintf(out, "unread total: %d\n", c.facade.UnreadCount())
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	return cmd
}

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start <user|company> <id>",
		Short: "Open (or create) the conversation with a participant",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, args []string) error {
			typ, err := domainchat.ParseParticipantType(args[0])
			if err != nil {
				return err
			}
			if err := c.waitConnected(ctx, opts.wait); err != nil {
				return err
			}
			conv, err := c.facade.StartConversation(ctx, args[1], typ, true)
			if err != nil {
				return err
			}
			printConversation(ctx, cmd.OutOrStdout(), c.facade, conv)
			return nil
		}),
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a page of message history",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, args []string) error {
			id := args[0]
			if err := c.findConversation(ctx, id); err != nil {
				return err
			}
			res, err := c.facade.LoadMessages(ctx, id, chat.PageRequest{Page: page, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range c.facade.Messages(id) {
				printMessage(ctx, out, c.facade, m)
			}
			if res.HasMore {
				fmt.Fprintf(out, "more: --page %d\n", page+1)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number, 1 is the newest")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, args []string) error {
			id := args[0]
			if err := c.findConversation(ctx, id); err != nil {
				return err
			}
			if err := c.waitConnected(ctx, opts.wait); err != nil {
				return err
			}
			msg, err := c.facade.SendMessage(ctx, id, strings.Join(args[1:], " "))
			if errors.Is(err, domainchat.ErrNotConnected) && msg.Status == domainchat.StatusFailed {
				msg, err = c.facade.RetryMessage(ctx, id, msg.ID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msg.ID)
			return nil
		}),
	}
}

func newReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, args []string) error {
			id := args[0]
			if err := c.findConversation(ctx, id); err != nil {
				return err
			}
			if err := c.waitConnected(ctx, opts.wait); err != nil {
				return err
			}
			if err := c.facade.MarkAsRead(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "read %s\n", id)
			return nil
		}),
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	var clearOnly bool
	cmd := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation for the acting identity only",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, args []string) error {
			id := args[0]
			if err := c.findConversation(ctx, id); err != nil {
				return err
			}
			if clearOnly {
				if err := c.facade.ClearHistory(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", id)
				return nil
			}
			if err := c.facade.DeleteConversation(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&clearOnly, "clear", false, "only hide the current history, keep the conversation listed")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream incoming messages, typing and presence until interrupted",
		Args:  cobra.NoArgs,
		RunE: withClient(opts, func(ctx context.Context, cmd *cobra.Command, c *client, _ []string) error {
			out := cmd.OutOrStdout()
			w := &watcher{out: out, facade: c.facade, seen: make(map[string]bool)}
			cancel := c.facade.Subscribe(func(ch chat.Change) { w.handle(ctx, ch) })
			defer cancel()
			if _, err := c.facade.LoadConversations(ctx, chat.PageRequest{Page: 1}); err != nil {
				return err
			}
			w.prime()
			fmt.Fprintf(out, "watching as %s (unread %d)\n", c.facade.Scope(), c.facade.UnreadCount())
			<-ctx.Done()
			return nil
		}),
	}
}

type runFunc func(ctx context.Context, cmd *cobra.Command, c *client, args []string) error

func withClient(opts *options, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		c, err := openClient(ctx, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				c.logger.Debug("close chat client", "error", err)
			}
		}()
		return fn(ctx, cmd, c, args)
	}
}

func printConversation(ctx context.Context, out io.Writer, f *chat.Facade, conv domainchat.Conversation) {
	other, _ := conv.Other(f.Scope())
	name := other.String()
	if prof, err := f.Profile(ctx, other); err == nil {
		name = prof.DisplayName
	}
	last := "-"
	if conv.LastMessage != nil {
		last = truncate(conv.LastMessage.Content, 40)
	}
	presence := ""
	if f.Online(other) {
		presence = " *"
	}
	fmt.Fprintf(out, "%s  %-24s unread=%-3s %s\n", conv.ID, name+presence, strconv.Itoa(f.ConversationUnread(conv.ID)), last)
}

func printMessage(ctx context.Context, out io.Writer, f *chat.Facade, m domainchat.Message) {
	who := "me"
	if m.Sender != f.Scope() {
		who = m.Sender.String()
		if prof, err := f.Profile(ctx, m.Sender); err == nil {
			who = prof.DisplayName
		}
	}
	fmt.Fprintf(out, "[%s] %s (%s): %s\n", m.CreatedAt.Local().Format(time.DateTime), who, strings.ToLower(string(m.Status)), m.Content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// watcher prints what changed since the last notification.
type watcher struct {
	out    io.Writer
	facade *chat.Facade
	seen   map[string]bool
}

func (w *watcher) prime() {
	for _, conv := range w.facade.Conversations() {
		for _, m := range w.facade.Messages(conv.ID) {
			w.seen[m.ID] = true
		}
		if conv.LastMessage != nil {
			w.seen[conv.LastMessage.ID] = true
		}
	}
}

func (w *watcher) handle(ctx context.Context, ch chat.Change) {
	switch ch.Kind {
	case chat.ChangeMessages:
		for _, m := range w.facade.Messages(ch.ConversationID) {
			if w.seen[m.ID] || domainchat.IsTempID(m.ID) {
				continue
			}
			w.seen[m.ID] = true
			fmt.Fprintf(w.out, "%s ", ch.ConversationID)
			printMessage(ctx, w.out, w.facade, m)
		}
	case chat.ChangeTyping:
		typers := w.facade.Typing(ch.ConversationID)
		if len(typers) > 0 {
			fmt.Fprintf(w.out, "%s %s is typing…\n", ch.ConversationID, typers[0])
		}
	case chat.ChangeConnection:
		state := "offline"
		if w.facade.IsConnected() {
			state = "online"
		}
		fmt.Fprintf(os.Stderr, "connection %s\n", state)
	}
}

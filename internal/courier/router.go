package courier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Router classifies inbound chat events and routes command messages to the
// CommandHandler. Everything else is silently dropped: events from chats
// other than the authorized orders group are not even parsed.
type Router struct {
	cmdHandler    *CommandHandler
	dispatcher    *Dispatcher
	ordersKeyword string
	orgKeyword    string
	botUserID     string
	stats         *Stats
	out           io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	CmdHandler    *CommandHandler
	Dispatcher    *Dispatcher
	OrdersKeyword string // group-name keyword, e.g. "pedidos"
	OrgKeyword    string // organization keyword, e.g. "daatcs"
	BotUserID     string // bot's user ID for self-message filtering
	Stats         *Stats // optional activity counters
	Out           io.Writer
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("courier: router: command handler is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("courier: router: dispatcher is required")
	}
	if opts.OrdersKeyword == "" || opts.OrgKeyword == "" {
		return nil, fmt.Errorf("courier: router: group keywords are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	stats := opts.Stats
	if stats == nil {
		stats = NewStats(nil)
	}
	return &Router{
		cmdHandler:    opts.CmdHandler,
		dispatcher:    opts.Dispatcher,
		ordersKeyword: strings.ToLower(opts.OrdersKeyword),
		orgKeyword:    strings.ToLower(opts.OrgKeyword),
		botUserID:     opts.BotUserID,
		stats:         stats,
		out:           out,
	}, nil
}

// Authorized reports whether a chat event comes from the authorized orders
// group: a group whose name contains both configured keywords,
// case-insensitively.
func (r *Router) Authorized(msg InboundMessage) bool {
	if !msg.IsGroup {
		return false
	}
	name := strings.ToLower(msg.GroupName)
	return strings.Contains(name, r.ordersKeyword) && strings.Contains(name, r.orgKeyword)
}

// Handle classifies and routes a single inbound message:
//  1. Bot self-message → ignore
//  2. Not from the authorized group → ignore (not parsed at all)
//  3. Command prefix → command handler, reply dispatched to the group
//  4. Plain chatter in the group → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.botUserID != "" && msg.SenderID == r.botUserID {
		return
	}
	r.stats.Received()

	if !r.Authorized(msg) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !IsCommand(text) {
		return
	}

	fmt.Fprintf(r.out, "courier: %s: %q\n", msg.SenderName, truncate(text, 80))
	r.stats.Command()

	msg.Text = text
	reply := r.cmdHandler.Execute(ctx, msg)
	if reply == "" {
		return
	}

	res := r.dispatcher.Send(ctx, msg.Address, reply, false)
	if res.Sent {
		r.stats.Sent()
	} else {
		fmt.Fprintf(r.out, "courier: reply suppressed (%s)\n", res.Reason)
	}
}

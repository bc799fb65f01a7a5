package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/app"
	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/credentials"
	"github.com/Xfuse1/whatsapp-crm/internal/lock"
	"github.com/Xfuse1/whatsapp-crm/internal/outbox"
	"github.com/Xfuse1/whatsapp-crm/internal/profile"
)

const requestTimeout = 30 * time.Second

// CLI runs one crmctl command against a wired client.
type CLI struct {
	Client *app.Client
	Out    io.Writer
	In     io.Reader
	JSON   bool
}

// Run dispatches args[0].
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("crmctl <command>")
	}
	cmd, rest := args[0], args[1:]
	if cmd == "watch" {
		return c.watch(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	switch cmd {
	case "login":
		return c.login(ctx, rest)
	case "logout":
		return c.logout()
	case "status":
		return c.status(ctx)
	case "qr":
		return c.qr(ctx)
	case "chats":
		return c.chats(ctx)
	case "messages":
		if len(rest) != 1 {
			return usage("crmctl messages <chatId>")
		}
		return c.messages(ctx, rest[0])
	case "send":
		if len(rest) < 2 {
			return usage("crmctl send <to> <text>")
		}
		return c.send(ctx, rest[0], strings.Join(rest[1:], " "))
	case "contact":
		if len(rest) == 0 {
			return usage("crmctl contact <phone> [name]")
		}
		return c.contact(ctx, rest[0], strings.Join(rest[1:], " "))
	}
	return apperr.New(apperr.CodeInvalidInput, "unknown command: "+cmd).
		WithUserMessage("unknown command: " + cmd)
}

func usage(u string) error {
	return apperr.New(apperr.CodeInvalidInput, "usage: "+u).WithUserMessage("usage: " + u)
}

func (c *CLI) printJSON(v any) error {
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *CLI) login(ctx context.Context, args []string) error {
	var token string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		token, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when empty)")
	name := fs.String("name", "", "full name stored with a token")
	id := fs.String("id", "", "user id stored with a token")
	role := fs.String("role", "", "role stored with a token")
	if err := fs.Parse(args); err != nil {
		return usage("crmctl login [<token>] [--email e] [--password p] [--name n] [--id i] [--role r]")
	}

	if token != "" {
		user := &credentials.User{ID: *id, Email: *email, FullName: *name, Role: *role}
		if err := c.Client.Creds.Save(token, user); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.Out, "Token stored for profile %s\n", c.Client.Profile)
		return nil
	}

	in := bufio.NewReader(c.In)
	if *email == "" {
		*email = prompt(c.Out, in, "Email: ")
	}
	if *password == "" {
		*password = prompt(c.Out, in, "Password: ")
	}
	sess, err := c.Client.Gateway.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	u := sess.User
	if err := c.Client.Creds.Save(sess.Token, &credentials.User{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}); err != nil {
		return err
	}
	who := u.FullName
	if who == "" {
		who = u.Email
	}
	_, _ = fmt.Fprintf(c.Out, "Signed in as %s (profile %s)\n", who, c.Client.Profile)
	return nil
}

func prompt(out io.Writer, in *bufio.Reader, label string) string {
	_, _ = fmt.Fprint(out, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *CLI) logout() error {
	if err := c.Client.Logout(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.Out, "Signed out")
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	st, err := c.Client.Gateway.Status(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return c.printJSON(st)
	}
	state := "not linked"
	if st.IsConnected {
		state = "linked"
	}
	_, _ = fmt.Fprintf(c.Out, "Profile:  %s\n", c.Client.Profile)
	if u, ok := c.Client.Creds.User(); ok {
		_, _ = fmt.Fprintf(c.Out, "User:     %s\n", u.Email)
	}
	_, _ = fmt.Fprintf(c.Out, "WhatsApp: %s\n", state)
	if st.PhoneNumber != "" {
		_, _ = fmt.Fprintf(c.Out, "Phone:    %s\n", st.PhoneNumber)
	}
	if st.SessionID != "" {
		_, _ = fmt.Fprintf(c.Out, "Session:  %s\n", st.SessionID)
	}
	return nil
}

func (c *CLI) qr(ctx context.Context) error {
	code, err := c.Client.Gateway.QR(ctx)
	if err != nil {
		return err
	}
	if code == "" {
		_, _ = fmt.Fprintln(c.Out, "No QR code available; WhatsApp may already be linked.")
		return nil
	}
	if c.JSON {
		return c.printJSON(map[string]string{"qr": code})
	}
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return fmt.Errorf("render qr: %w", err)
	}
	_, _ = fmt.Fprint(c.Out, q.ToSmallString(false))
	_, _ = fmt.Fprintln(c.Out, "Scan this code with WhatsApp > Linked devices.")
	return nil
}

func (c *CLI) chats(ctx context.Context) error {
	if err := c.Client.Chats.Load(ctx); err != nil {
		return err
	}
	convs := c.Client.Chats.Snapshot()
	if c.JSON {
		return c.printJSON(convs)
	}
	tw := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCONTACT\tUNREAD\tLAST ACTIVITY")
	for _, cv := range convs {
		last := ""
		if !cv.LastActivityAt.IsZero() {
			last = cv.LastActivityAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", cv.ID, cv.DisplayTitle(), cv.ContactAddress, cv.UnreadCount, last)
	}
	return tw.Flush()
}

func (c *CLI) messages(ctx context.Context, chatID string) error {
	msgs, err := c.Client.Gateway.FetchMessages(ctx, chatID)
	if err != nil {
		return err
	}
	if c.JSON {
		return c.printJSON(msgs)
	}
	for _, m := range msgs {
		who := m.SenderAddress
		switch {
		case m.Direction == chat.DirectionOut:
			who = "you"
		case who == "":
			who = string(m.Direction)
		}
		status := ""
		if m.Status != "" {
			status = " [" + string(m.Status) + "]"
		}
		_, _ = fmt.Fprintf(c.Out, "%s %s%s: %s\n", m.CreatedAt.Local().Format("01/02 15:04"), who, status, m.Body)
	}
	return nil
}

func (c *CLI) send(ctx context.Context, to, text string) error {
	if strings.TrimSpace(text) == "" {
		return usage("crmctl send <to> <text>")
	}
	ack, err := c.Client.Sender.Send(ctx, outbox.Outgoing{
		To:            to,
		Body:          text,
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	if c.JSON {
		return c.printJSON(ack)
	}
	_, _ = fmt.Fprintf(c.Out, "Sent %s\n", ack.MessageID)
	return nil
}

func (c *CLI) contact(ctx context.Context, phone, name string) error {
	cv, err := c.Client.Gateway.CreateContact(ctx, phone, name)
	if err != nil {
		return err
	}
	if c.JSON {
		return c.printJSON(cv)
	}
	_, _ = fmt.Fprintf(c.Out, "Created %s (%s)\n", cv.DisplayTitle(), cv.ID)
	return nil
}

// watch streams bus events as JSON lines until ctx is done. No
// conversation is focused, so inbound messages raise notifications.
func (c *CLI) watch(ctx context.Context) error {
	cl := c.Client
	l, err := lock.Acquire(profile.LockPath(cl.Profile))
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	if err := cl.Chats.Load(ctx); err != nil {
		cl.Logger.Warn("chat list unavailable, titles fall back to contacts", zap.Error(err))
	}
	events, unsub := cl.Bus.Subscribe("", 256)
	defer unsub()

	cl.Focus.Set(false)
	cl.GoLive(ctx)
	defer cl.Offline()

	enc := json.NewEncoder(c.Out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(map[string]any{
				"kind":    ev.Kind,
				"time":    ev.Timestamp.Format(time.RFC3339Nano),
				"payload": ev.Payload,
			}); err != nil {
				return err
			}
		}
	}
}

package tui

import (
	"context"
	"fmt"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// Fields splits the arguments on whitespace.
func (c Command) Fields() []string {
	return strings.Fields(c.Args)
}

// commands are the names accepted at the ':' prompt.
var commands = []string{"new", "pair", "quit", "reconnect", "refresh", "retry", "logout"}

// run executes a parsed command. Commands that touch the network run off
// the UI goroutine.
func (a *App) run(cmd Command) error {
	switch cmd.Name {
	case "":
		return nil
	case "q", "quit":
		a.Stop()
	case "reconnect":
		a.vm.Reconnect()
	case "refresh":
		go a.vm.LoadChats(a.ctx)
	case "retry":
		go a.vm.RetryLast(a.ctx)
	case "pair":
		a.showPairing()
	case "logout":
		go func() {
			if a.vm.Logout() == nil {
				a.app.QueueUpdate(a.Stop)
			}
		}()
	case "new":
		f := cmd.Fields()
		if len(f) == 0 {
			return fmt.Errorf("usage: new <phone> [name]")
		}
		phone, name := f[0], strings.Join(f[1:], " ")
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
			defer cancel()
			if id, err := a.vm.NewContact(ctx, phone, name); err == nil && id != "" {
				a.app.QueueUpdateDraw(func() { a.openChat(id) })
			}
		}()
	default:
		return fmt.Errorf("unknown command %q (try: %s)", cmd.Name, strings.Join(commands, ", "))
	}
	return nil
}

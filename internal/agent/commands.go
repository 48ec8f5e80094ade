package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

const defaultCommandPrefix = "!"

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // lower-cased command name without the prefix
	Args []string // arguments after the command
	Raw  string   // original full text
}

// ParseCommand parses text into a ChatCommand when it starts with prefix.
// Returns nil if the message is not a command.
func ParseCommand(text, prefix string) *ChatCommand {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil
	}

	parts := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return nil
	}

	return &ChatCommand{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
		Raw:  text,
	}
}

// CommandRouter answers auxiliary commands on messages that do not address the bot.
type CommandRouter struct {
	prefix    string
	version   string
	startTime time.Time
}

func NewCommandRouter(prefix, version string) *CommandRouter {
	if prefix == "" {
		prefix = defaultCommandPrefix
	}
	return &CommandRouter{prefix: prefix, version: version, startTime: time.Now()}
}

// Prefix returns the command prefix in use.
func (cr *CommandRouter) Prefix() string { return cr.prefix }

// Respond returns the reply for text, or false if text is not a known command.
func (cr *CommandRouter) Respond(text string) (string, bool) {
	cmd := ParseCommand(text, cr.prefix)
	if cmd == nil {
		return "", false
	}

	switch cmd.Name {
	case "ping":
		return "🏓 Pong!", true
	case "help":
		return cr.helpText(), true
	case "version":
		return fmt.Sprintf("Jarvis v%s (%s/%s, Go %s)", cr.version, runtime.GOOS, runtime.GOARCH, runtime.Version()), true
	case "uptime":
		return fmt.Sprintf("Uptime: %s", time.Since(cr.startTime).Round(time.Second)), true
	default:
		return "", false
	}
}

// Handle replies to a recognized command and reports whether it did.
func (cr *CommandRouter) Handle(ctx context.Context, r Replier, ev domain.InboundEvent) (bool, error) {
	resp, ok := cr.Respond(ev.Text)
	if !ok {
		return false, nil
	}
	return true, r.Reply(ctx, ev, resp)
}

func (cr *CommandRouter) helpText() string {
	p := cr.prefix
	return "**Jarvis**\n\n" +
		"Mention me with a question, or reply to a message and mention me to ask about it.\n\n" +
		p + "ping — Check that I'm alive\n" +
		p + "help — Show this message\n" +
		p + "uptime — Show uptime\n" +
		p + "version — Show version info"
}

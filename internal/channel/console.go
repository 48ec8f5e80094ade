package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

const (
	consoleMaxMsgLen  = 2000
	consoleHistoryCap = 100
	// ConsoleAddress addresses the bot from the terminal.
	ConsoleAddress = "@jarvis"
	// consoleReplyMarker at the start of a line replies to the bot's last answer.
	consoleReplyMarker = "^"
)

// Console implements domain.Gateway for interactive terminal chat.
type Console struct {
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	name   string

	mu      sync.Mutex
	seq     int
	history map[string]string // reply id -> text
	order   []string
	lastID  string

	thinking  int
	thinkStop chan struct{}
}

type ConsoleConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	// Name is printed in front of the bot's replies.
	Name string
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Name == "" {
		cfg.Name = "jarvis"
	}
	return &Console{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		name:    cfg.Name,
		history: make(map[string]string),
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) MaxMessageLen() int { return consoleMaxMsgLen }

func (c *Console) AddressTokens() []string { return []string{ConsoleAddress} }

// Start runs the REPL and blocks until EOF, /quit or ctx is done.
func (c *Console) Start(ctx context.Context, publish domain.PublishFunc, onReady func()) error {
	if onReady != nil {
		onReady()
	}

	c.printf("Jarvis console. Start a line with %s to ask, %s to reply to the last answer, /quit to exit.\n",
		ConsoleAddress, consoleReplyMarker)
	c.prompt()

	done := make(chan struct{})
	defer close(done)
	lines, readErr := c.readLines(done)

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return <-readErr // nil on EOF
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			c.prompt()
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		publish(c.event(line))
	}
}

// readLines scans input on its own goroutine. A read blocked on a terminal
// outlives Start until the next line arrives after done is closed.
func (c *Console) readLines(done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				errc <- nil
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

// event builds the inbound event for one input line. A leading "^" turns the
// line into an addressed reply to the last answer.
func (c *Console) event(line string) domain.InboundEvent {
	c.mu.Lock()
	c.seq++
	id := "in-" + strconv.Itoa(c.seq)
	lastID := c.lastID
	c.mu.Unlock()

	ev := domain.InboundEvent{
		ID:         id,
		Channel:    "console",
		ChatID:     "direct",
		AuthorID:   "user",
		AuthorName: "user",
		Text:       line,
		Timestamp:  time.Now(),
	}
	if rest, ok := strings.CutPrefix(line, consoleReplyMarker); ok {
		ev.Text = ConsoleAddress + " " + strings.TrimSpace(rest)
		if lastID != "" {
			ev.Reference = domain.Some(domain.MessageRef{MessageID: lastID, ChatID: ev.ChatID})
		}
	}
	return ev
}

// Reply prints a bot answer and remembers it for "^" replies.
func (c *Console) Reply(ctx context.Context, ev domain.InboundEvent, text string) error {
	c.mu.Lock()
	c.seq++
	id := "out-" + strconv.Itoa(c.seq)
	c.history[id] = text
	c.order = append(c.order, id)
	if len(c.order) > consoleHistoryCap {
		delete(c.history, c.order[0])
		c.order = c.order[1:]
	}
	c.lastID = id
	c.mu.Unlock()

	c.printf("\r\033[K%s> %s\n", c.name, text)
	c.prompt()
	return nil
}

// FetchMessage returns one of the recent answers printed by Reply.
func (c *Console) FetchMessage(ctx context.Context, ref domain.MessageRef) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.history[ref.MessageID]
	if !ok {
		return "", domain.ErrMessageNotFound
	}
	return text, nil
}

// Typing shows a spinner while at least one request is generating.
func (c *Console) Typing(ctx context.Context, ev domain.InboundEvent) func() {
	c.startThinking()
	var once sync.Once
	return func() { once.Do(c.stopThinking) }
}

func (c *Console) startThinking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinking++
	if c.thinking > 1 {
		return
	}
	stop := make(chan struct{})
	c.thinkStop = stop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *Console) stopThinking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thinking == 0 {
		return
	}
	c.thinking--
	if c.thinking == 0 {
		close(c.thinkStop)
		c.thinkStop = nil
	}
}

func (c *Console) prompt() { c.printf("you> ") }

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

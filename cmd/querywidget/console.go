package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"QueryWidget/internal/config"
	"QueryWidget/internal/render"
	"QueryWidget/internal/widget"
)

// Console drives one widget from a line-oriented terminal.
type Console struct {
	w       *widget.Widget
	baseURL string
	in      io.Reader
	out     io.Writer
	logger  *slog.Logger
}

// NewConsole creates the widget for cfg and wires bubble output to out.
func NewConsole(cfg config.Config, in io.Reader, out io.Writer, logger *slog.Logger, opts ...widget.Option) (*Console, error) {
	c := &Console{baseURL: cfg.Widget.BaseURL, in: in, out: out, logger: logger}

	opts = append(opts,
		widget.WithLogger(logger),
		widget.WithDocumentOptions(render.OnAppend(c.printBubble)),
	)
	w, err := widget.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create widget: %w", err)
	}
	c.w = w
	return c, nil
}

// printBubble runs with the widget locked; it only writes.
func (c *Console) printBubble(b render.Bubble) {
	if b.FromUser {
		return
	}
	fmt.Fprintf(c.out, "Bot: %s\n\n", strings.TrimSpace(b.Text()))
}

// Run reads lines until EOF or /quit.
func (c *Console) Run(ctx context.Context) error {
	if err := c.w.Init(ctx); err != nil {
		return err
	}
	for _, r := range c.w.Dependencies() {
		if r.Err != nil {
			fmt.Fprintf(c.out, "Warning: %s unavailable, answers shown as plain text\n", r.Name)
		}
	}

	fmt.Fprintln(c.out, "=== QuerySafe ===")
	fmt.Fprintf(c.out, "Backend: %s\n", c.baseURL)
	fmt.Fprintln(c.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(c.out)

	if err := c.w.ToggleWidget(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(input)
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
				c.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		sent, err := c.w.Send(input)
		if err != nil {
			return err
		}
		if !sent {
			fmt.Fprintln(c.out, "(still waiting for the previous answer)")
		}
		c.w.Wait()
	}

	c.w.Wait()
	fmt.Fprintln(c.out, "Goodbye!")
	return scanner.Err()
}

func (c *Console) handleCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/open", "/close":
		if (parts[0] == "/open") == c.w.State().IsOpen {
			c.describe()
			return false, nil
		}
		if err := c.w.ToggleWidget(); err != nil {
			return false, err
		}
		c.describe()
		return false, nil

	case "/rate":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /rate <1-5>")
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 || n > 5 {
			return false, fmt.Errorf("rating must be 1-5, got %q", parts[1])
		}
		if err := c.requirePrompt(); err != nil {
			return false, err
		}
		return false, c.w.SelectRating(n)

	case "/comment":
		if err := c.requirePrompt(); err != nil {
			return false, err
		}
		return false, c.w.SetFeedbackComment(strings.TrimSpace(strings.TrimPrefix(cmd, "/comment")))

	case "/submit":
		if err := c.requirePrompt(); err != nil {
			return false, err
		}
		if err := c.w.SubmitFeedback(); err != nil {
			return false, err
		}
		c.printFeedbackPanel()
		c.w.Wait()
		c.describe()
		return false, nil

	case "/skip":
		if err := c.requirePrompt(); err != nil {
			return false, err
		}
		if err := c.w.SkipFeedback(); err != nil {
			return false, err
		}
		c.describe()
		return false, nil

	case "/help":
		fmt.Fprintln(c.out, "Available commands:")
		fmt.Fprintln(c.out, "  /open, /close     - Open or close the widget")
		fmt.Fprintln(c.out, "  /rate <1-5>       - Select a star rating")
		fmt.Fprintln(c.out, "  /comment <text>   - Add a feedback comment")
		fmt.Fprintln(c.out, "  /submit           - Submit feedback")
		fmt.Fprintln(c.out, "  /skip             - Skip feedback")
		fmt.Fprintln(c.out, "  /quit, /exit      - Exit")
		fmt.Fprintln(c.out, "  /help             - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (c *Console) requirePrompt() error {
	if c.w.FeedbackState() != widget.FeedbackPrompting {
		return fmt.Errorf("no feedback prompt is open")
	}
	return nil
}

func (c *Console) printFeedbackPanel() {
	c.w.View(func(d *render.Document) {
		fmt.Fprintf(c.out, "%s\n", strings.Join(strings.Fields(d.FeedbackContentText()), " "))
	})
}

// describe prints what the widget currently shows.
func (c *Console) describe() {
	switch {
	case c.w.FeedbackState() == widget.FeedbackPrompting:
		fmt.Fprintln(c.out, "How was your experience? /rate <1-5>, /comment <text>, then /submit or /skip")
	case c.w.State().IsOpen:
		fmt.Fprintln(c.out, "[widget open]")
	default:
		fmt.Fprintln(c.out, "[widget closed]")
	}
}

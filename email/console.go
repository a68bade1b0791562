package email

import (
	"context"
	"fmt"
	"html"
	"io"
	"regexp"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// ConsoleRecipient is the recipient recorded in the journal for console runs.
const ConsoleRecipient = "console"

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#DBDBDB", Dark: "#383838"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#626262"}

	subjectStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	bodyStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
	toStyle = lipgloss.NewStyle().Foreground(colorDim)
)

var anchorRe = regexp.MustCompile(`<a href='([^']*)'>([^<]*)</a>`)

// plainText turns the composed body into terminal text: links become the
// address followed by the URL.
func plainText(body string) string {
	return html.UnescapeString(anchorRe.ReplaceAllString(body, "$2\n$1"))
}

// ConsoleProvider prints notifications instead of mailing them.
type ConsoleProvider struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleProvider creates a provider writing to w.
func NewConsoleProvider(w io.Writer) *ConsoleProvider {
	return &ConsoleProvider{w: w}
}

func (c *ConsoleProvider) Name() string {
	return "console"
}

// Send writes the message to the provider's writer.
func (c *ConsoleProvider) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := subjectStyle.Render(subject)
	if to != ConsoleRecipient {
		out += " " + toStyle.Render("to "+to)
	}
	out += "\n" + bodyStyle.Render(plainText(body)) + "\n"
	if _, err := fmt.Fprint(c.w, out); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

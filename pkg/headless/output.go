package headless

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/killallgit/converse/pkg/llm"
	"github.com/killallgit/converse/pkg/process"
)

// Autumn palette shared with the interactive client
var (
	colorMuted   = lipgloss.Color("#5c5044")
	colorError   = lipgloss.Color("#d95f5f")
	colorSuccess = lipgloss.Color("#93b56b")
	colorInfo    = lipgloss.Color("#61afaf")
	colorFocus   = lipgloss.Color("#eb8755")
)

// Output handles console output for headless mode. Reply text goes to out
// unstyled so it can be piped; status lines go to status.
type Output struct {
	out    io.Writer
	status io.Writer

	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style
	titleStyle  lipgloss.Style
	tokenStyle  lipgloss.Style
}

// NewOutput writes replies to stdout and status to stderr
func NewOutput() *Output {
	return NewOutputTo(os.Stdout, os.Stderr)
}

func NewOutputTo(out, status io.Writer) *Output {
	return &Output{
		out:         out,
		status:      status,
		statusStyle: lipgloss.NewStyle().Foreground(colorInfo),
		errorStyle:  lipgloss.NewStyle().Foreground(colorError).Bold(true),
		titleStyle:  lipgloss.NewStyle().Foreground(colorFocus).Bold(true),
		tokenStyle:  lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// Text prints reply text as it arrives
func (o *Output) Text(text string) {
	fmt.Fprint(o.out, text)
}

func (o *Output) Newline() {
	fmt.Fprintln(o.out)
}

// Phase prints a status line when the exchange changes phase
func (o *Output) Phase(phase process.State) {
	if !phase.IsActive() {
		return
	}
	fmt.Fprintln(o.status, o.statusStyle.Render(phase.GetIcon()+" "+phase.GetDisplayName()+"..."))
}

func (o *Output) Error(msg string) {
	fmt.Fprintln(o.status, o.errorStyle.Render("Error: "+msg))
}

func (o *Output) Title(title string) {
	fmt.Fprintln(o.status, o.titleStyle.Render("Title: ")+lipgloss.NewStyle().Foreground(colorSuccess).Render(title))
}

// Tokens prints the token summary for the run
func (o *Output) Tokens(usage llm.Usage) {
	fmt.Fprintln(o.status, o.tokenStyle.Render(fmt.Sprintf("[Tokens - Sent: %d, Received: %d, Total: %d]",
		usage.Sent, usage.Recv, usage.Sent+usage.Recv)))
}

package assign

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	quoteStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("252"))
)

// Console is an interactive Prompter reading speaker names line by line.
// Pressing enter without typing a name leaves the label unmapped.
type Console struct {
	In  io.Reader
	Out io.Writer
}

// NewConsole creates a console prompter over the given streams.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{In: in, Out: out}
}

// Prompt shows each label's longest samples and asks for a name.
func (c *Console) Prompt(sessionName string, items []ReviewItem) (types.SpeakerMapping, error) {
	scanner := bufio.NewScanner(c.In)
	mapping := make(types.SpeakerMapping)

	fmt.Fprintln(c.Out, headerStyle.Render(fmt.Sprintf("Speaker assignment: %s", sessionName)))
	fmt.Fprintln(c.Out, dimStyle.Render("Press enter to leave a speaker unmapped."))
	fmt.Fprintln(c.Out)

	for _, item := range items {
		fmt.Fprintf(c.Out, "%s  %s\n",
			labelStyle.Render(item.Label),
			dimStyle.Render(fmt.Sprintf("%d segments, %.1fs total", item.Segments, item.TotalDuration)))
		for _, s := range item.Samples {
			fmt.Fprintf(c.Out, "  %s %s\n",
				dimStyle.Render(fmt.Sprintf("[%.1fs-%.1fs]", s.Start, s.End)),
				quoteStyle.Render(preview(s.Text, 80)))
			fmt.Fprintf(c.Out, "    %s\n", dimStyle.Render(s.Path))
		}
		fmt.Fprintf(c.Out, "Name for %s: ", item.Label)

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading speaker name: %w", err)
			}
			break // Input closed; remaining labels stay unmapped
		}
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			mapping[item.Label] = name
		}
		fmt.Fprintln(c.Out)
	}
	return mapping, nil
}

// preview truncates text for one-line display.
func preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

// internal/tui/confirm.go
//
// The confirmation prompt shown before a run submits anything. It is a small
// bubbletea model: Update reacts to key presses and View renders the prompt
// with the currently highlighted choice.

package tui

import (
	"context"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type confirmKeyMap struct {
	Yes    key.Binding
	No     key.Binding
	Toggle key.Binding
	Submit key.Binding
	Quit   key.Binding
}

func (k confirmKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Yes, k.No, k.Toggle, k.Submit}
}

func (k confirmKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Quit}}
}

var confirmKeys = confirmKeyMap{
	Yes:    key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "yes")),
	No:     key.NewBinding(key.WithKeys("n", "N", "esc", "q"), key.WithHelp("n", "no")),
	Toggle: key.NewBinding(key.WithKeys("left", "right", "h", "l", "tab"), key.WithHelp("←/→", "choose")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "abort")),
}

// Confirm asks a yes/no question. The default choice is "no".
type Confirm struct {
	prompt    string
	detail    string
	yes       bool
	done      bool
	confirmed bool
	help      help.Model
}

// NewConfirm builds the prompt. detail is rendered above the question.
func NewConfirm(prompt, detail string) Confirm {
	return Confirm{prompt: prompt, detail: detail, help: help.New()}
}

// Init implements tea.Model.
func (c Confirm) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (c Confirm) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok || c.done {
		return c, nil
	}
	switch {
	case key.Matches(keyMsg, confirmKeys.Yes):
		return c.finish(true)
	case key.Matches(keyMsg, confirmKeys.No), key.Matches(keyMsg, confirmKeys.Quit):
		return c.finish(false)
	case key.Matches(keyMsg, confirmKeys.Toggle):
		c.yes = !c.yes
	case key.Matches(keyMsg, confirmKeys.Submit):
		return c.finish(c.yes)
	}
	return c, nil
}

func (c Confirm) finish(answer bool) (tea.Model, tea.Cmd) {
	c.done = true
	c.confirmed = answer
	return c, tea.Quit
}

// View implements tea.Model.
func (c Confirm) View() string {
	if c.done {
		answer := labelStyleBlocked.Render("no")
		if c.confirmed {
			answer = labelStyleReady.Render("yes")
		}
		return c.prompt + " " + answer + "\n"
	}
	yes, no := labelStyleSkipped.Render(" Yes "), labelStyleBlocked.Render("[No]")
	if c.yes {
		yes, no = labelStyleReady.Render("[Yes]"), labelStyleSkipped.Render(" No ")
	}
	var b strings.Builder
	if strings.TrimSpace(c.detail) != "" {
		b.WriteString(c.detail)
		b.WriteString("\n\n")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, titleStyle.Render(c.prompt), "  ", yes, " ", no))
	b.WriteString("\n")
	b.WriteString(hintStyle.Render(c.help.View(confirmKeys)))
	b.WriteString("\n")
	return b.String()
}

// Confirmed reports the answer once the prompt finished.
func (c Confirm) Confirmed() bool { return c.done && c.confirmed }

// Done reports whether an answer was given.
func (c Confirm) Done() bool { return c.done }

// Ask runs the prompt on in/out and returns the answer. Cancelling ctx
// aborts the prompt and answers "no".
func Ask(ctx context.Context, in io.Reader, out io.Writer, prompt, detail string) (bool, error) {
	program := tea.NewProgram(NewConfirm(prompt, detail),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := program.Run()
	if err != nil {
		return false, err
	}
	model, ok := final.(Confirm)
	if !ok {
		return false, nil
	}
	return model.Confirmed(), nil
}

package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
)

// choiceModel is a single-question selection list. The last option is the
// refusal; esc, ctrl+c and "n" select it.
type choiceModel struct {
	title   string
	details []string
	options []string
	cursor  int
	chosen  int
}

func newChoiceModel(title string, details []string, options ...string) choiceModel {
	return choiceModel{title: title, details: details, options: options, chosen: -1}
}

func (m choiceModel) Init() tea.Cmd {
	return nil
}

func (m choiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j", "tab":
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.cursor
		return m, tea.Quit
	case "y":
		m.chosen = 0
		return m, tea.Quit
	case "n", "esc", "ctrl+c", "q":
		m.chosen = len(m.options) - 1
		return m, tea.Quit
	}
	return m, nil
}

func (m choiceModel) View() string {
	if m.chosen >= 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	for _, d := range m.details {
		b.WriteString(detailStyle.Render("  " + d))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for i, opt := range m.options {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + opt))
		} else {
			b.WriteString("  " + opt)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ move • enter select • esc cancel"))
	b.WriteString("\n")
	return b.String()
}

// Terminal asks questions with an inline bubbletea selection list.
type Terminal struct {
	in   io.Reader
	out  io.Writer
	opts options
	mu   sync.Mutex
}

var _ Prompter = (*Terminal)(nil)

// NewTerminal creates a TTY prompter.
func NewTerminal(in io.Reader, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{in: in, out: out}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t
}

// ConfirmOverride implements Prompter.
func (t *Terminal) ConfirmOverride(ctx context.Context, names []string) (bool, error) {
	m := newChoiceModel(
		fmt.Sprintf("%s signed out to another user.", describe(names)),
		nil,
		"Override sign-out", "Cancel",
	)
	choice, err := t.run(ctx, m)
	if err != nil {
		return false, err
	}
	return choice == 0, nil
}

// ConfirmSignOut implements Prompter.
func (t *Terminal) ConfirmSignOut(ctx context.Context, names []string) (SignOutChoice, error) {
	m := newChoiceModel(
		fmt.Sprintf("%s not signed out to you.", describe(names)),
		[]string{"Uploading requires the element to be signed out."},
		"Sign out", "Always sign out", "Cancel",
	)
	choice, err := t.run(ctx, m)
	if err != nil {
		return SignOutChoice{}, err
	}
	switch choice {
	case 0:
		return SignOutChoice{SignOut: true}, nil
	case 1:
		return SignOutChoice{SignOut: true, AutomaticSignOut: true}, nil
	default:
		return SignOutChoice{}, nil
	}
}

// ResolveConflict implements Prompter.
func (t *Terminal) ResolveConflict(ctx context.Context, c Conflict) (Resolution, error) {
	details := []string{
		fmt.Sprintf("local fingerprint:  %s", c.LocalFingerprint),
		fmt.Sprintf("remote fingerprint: %s", c.Remote.Fingerprint),
	}
	if t.opts.writeConflict != nil {
		location, err := t.opts.writeConflict(c)
		if err != nil {
			return ResolutionCancelled, err
		}
		details = append(details, fmt.Sprintf("remote version written to %s", location))
	}

	m := newChoiceModel(
		fmt.Sprintf("%s changed on the remote since it was retrieved.", c.Path),
		details,
		"Merged, upload again later", "Cancel",
	)
	choice, err := t.run(ctx, m)
	if err != nil {
		return ResolutionCancelled, err
	}
	if choice == 0 {
		return ResolutionResolved, nil
	}
	return ResolutionCancelled, nil
}

func (t *Terminal) run(ctx context.Context, m choiceModel) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	final, err := p.Run()
	if err != nil {
		return -1, err
	}
	return final.(choiceModel).chosen, nil
}

// Package tui renders the interactive PIN-matrix, passphrase, and
// button-wait prompts the CLI façade needs when a device interaction
// is in flight (spec §4.6, §6). Grounded on the teacher's
// internal/cli/ui/ui.go bubbletea Model/Update/View shape, scaled down
// from a full chat UI to three small prompt screens; uses
// bubbles/textinput for the input field the same way the teacher uses
// bubbles components (textarea, viewport) for its chat screen.
package tui

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
)

// Kind selects which prompt screen the model renders.
type Kind int

const (
	KindPin Kind = iota
	KindPassphrase
	KindButton
)

// Result is what the prompt resolved to once the user acted.
type Result struct {
	Cancelled  bool
	Positions  []int  // KindPin: 1-9 keypad positions, in entry order
	Passphrase string // KindPassphrase
}

// Model drives one prompt for one device interaction. Submitting or
// cancelling quits the bubbletea program; the caller reads Result
// after Program.Run returns.
type Model struct {
	kind     Kind
	deviceID string
	label    string // KindButton only: what the device is asking to confirm

	field textinput.Model
	err   string

	Result Result
	done   bool
}

// NewPinPrompt builds a prompt that collects scrambled-matrix keypad
// positions (1-9, top-left to bottom-right) for deviceID's PIN.
func NewPinPrompt(deviceID string) Model {
	field := textinput.New()
	field.EchoMode = textinput.EchoPassword
	field.EchoCharacter = '*'
	field.CharLimit = 9
	field.Focus()
	return Model{kind: KindPin, deviceID: deviceID, field: field}
}

// NewPassphrasePrompt builds a prompt that collects a BIP-39 passphrase.
func NewPassphrasePrompt(deviceID string) Model {
	field := textinput.New()
	field.EchoMode = textinput.EchoPassword
	field.EchoCharacter = '*'
	field.Focus()
	return Model{kind: KindPassphrase, deviceID: deviceID, field: field}
}

// NewButtonPrompt builds a screen telling the operator to confirm
// label on the device's physical button; the host-side protocol
// adapter auto-acks the ButtonRequest over the wire, so this screen is
// informational only.
func NewButtonPrompt(deviceID, label string) Model {
	return Model{kind: KindButton, deviceID: deviceID, label: label}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.Result = Result{Cancelled: true}
			m.done = true
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+v":
			if m.kind != KindButton {
				if text, err := clipboard.ReadAll(); err == nil {
					m.field.SetValue(m.field.Value() + strings.TrimSpace(text))
				}
			}
			return m, nil
		default:
			if m.kind == KindButton {
				return m, nil
			}
			if m.kind == KindPin && len(msg.Runes) == 1 {
				r := msg.Runes[0]
				if r < '1' || r > '9' {
					return m, nil
				}
			}
			var cmd tea.Cmd
			m.field, cmd = m.field.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	switch m.kind {
	case KindPin:
		input := m.field.Value()
		positions := make([]int, 0, len(input))
		for _, r := range input {
			positions = append(positions, int(r-'0'))
		}
		if len(positions) == 0 {
			m.err = "enter at least one keypad position"
			return m, nil
		}
		m.Result = Result{Positions: positions}
	case KindPassphrase:
		m.Result = Result{Passphrase: m.field.Value()}
	case KindButton:
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m Model) View() string {
	var body strings.Builder
	switch m.kind {
	case KindPin:
		body.WriteString(titleStyle.Render(fmt.Sprintf("PIN requested by %s", m.deviceID)))
		body.WriteString("\n\n")
		body.WriteString("Enter the keypad positions (1-9) matching the digits on the device, in order.\n")
		body.WriteString(hintStyle.Render("1 2 3\n4 5 6\n7 8 9") + "\n\n")
		body.WriteString(m.field.View())
	case KindPassphrase:
		body.WriteString(titleStyle.Render(fmt.Sprintf("Passphrase requested by %s", m.deviceID)))
		body.WriteString("\n\n")
		body.WriteString(m.field.View())
	case KindButton:
		body.WriteString(titleStyle.Render(fmt.Sprintf("Confirm on device %s", m.deviceID)))
		body.WriteString("\n\n")
		body.WriteString(fmt.Sprintf("Press the physical button to confirm: %s\n", m.label))
		body.WriteString(hintStyle.Render("waiting for device..."))
	}
	if m.err != "" {
		body.WriteString("\n" + errStyle.Render(m.err))
	}
	body.WriteString("\n\n" + hintStyle.Render("enter: submit   esc: cancel"))
	return boxStyle.Render(body.String())
}

// Done reports whether the user has submitted or cancelled.
func (m Model) Done() bool { return m.done }

// RunPrompt drives a KindPin or KindPassphrase model to completion and
// returns its Result.
func RunPrompt(m Model) (Result, error) {
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return Result{}, err
	}
	return final.(Model).Result, nil
}

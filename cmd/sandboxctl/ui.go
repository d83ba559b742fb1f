package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-sandbox/coap"
	"github.com/wippyai/wasm-sandbox/codec"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newUICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Browse, run and remove capsules interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !interactive() {
				return fmt.Errorf("ui needs a terminal")
			}
			client, err := coap.Dial(cmd.Context(), opts.addr, coap.ClientOptions{BlockSZX: opts.szx})
			if err != nil {
				return err
			}
			defer client.Close()

			p := tea.NewProgram(newBrowser(client, opts.addr, opts.timeout), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

type browserState int

const (
	stateList browserState = iota
	stateUpload
	stateResult
)

// browser is the capsule browser model. Every exchange runs as a tea.Cmd
// bounded by timeout.
type browser struct {
	err      error
	client   *coap.Client
	addr     string
	result   string
	status   string
	entries  []codec.DirectoryEntry
	inputs   []textinput.Model
	timeout  time.Duration
	selected int
	focusIdx int
	state    browserState
	asCBOR   bool
	loaded   bool
}

func newBrowser(client *coap.Client, addr string, timeout time.Duration) *browser {
	return &browser{
		client:  client,
		addr:    addr,
		timeout: timeout,
		state:   stateList,
	}
}

type directoryMsg struct {
	err     error
	entries []codec.DirectoryEntry
}

type runResultMsg struct {
	err    error
	result string
}

type statusMsg struct {
	err    error
	status string
}

func (m *browser) Init() tea.Cmd {
	return m.refresh
}

func (m *browser) deadline() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *browser) refresh() tea.Msg {
	ctx, cancel := m.deadline()
	defer cancel()
	entries, err := m.client.Directory(ctx)
	return directoryMsg{entries: entries, err: err}
}

func (m *browser) current() (codec.DirectoryEntry, bool) {
	if m.selected < 0 || m.selected >= len(m.entries) {
		return codec.DirectoryEntry{}, false
	}
	return m.entries[m.selected], true
}

func (m *browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateUpload {
			return m.updateUpload(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateList && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "c":
			m.asCBOR = !m.asCBOR

		case "r":
			if m.state == stateList {
				return m, m.refresh
			}

		case "u":
			if m.state == stateList {
				m.prepareUpload()
				m.state = stateUpload
				return m, textinput.Blink
			}

		case "d", "delete":
			if e, ok := m.current(); ok && m.state == stateList {
				return m, m.remove(e.Name)
			}

		case "enter":
			switch m.state {
			case stateList:
				if e, ok := m.current(); ok {
					return m, m.run(e.Name)
				}
			case stateResult:
				m.state = stateList
				m.result = ""
				m.err = nil
				return m, m.refresh
			}

		case "esc":
			if m.state == stateResult {
				m.state = stateList
				m.result = ""
				m.err = nil
			}
		}

	case directoryMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			m.entries = msg.entries
			m.selected = min(m.selected, max(len(m.entries)-1, 0))
		}

	case runResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateResult

	case statusMsg:
		m.status = msg.status
		m.err = msg.err
		return m, m.refresh
	}

	return m, nil
}

func (m *browser) updateUpload(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.state = stateList
		m.inputs = nil
		return m, nil
	case "tab", "shift+tab":
		m.inputs[m.focusIdx].Blur()
		m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
		m.inputs[m.focusIdx].Focus()
		return m, nil
	case "enter":
		name := strings.TrimSpace(m.inputs[0].Value())
		path := strings.TrimSpace(m.inputs[1].Value())
		m.state = stateList
		m.inputs = nil
		return m, m.upload(name, path)
	}

	var cmds []tea.Cmd
	for i := range m.inputs {
		var cmd tea.Cmd
		m.inputs[i], cmd = m.inputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *browser) prepareUpload() {
	m.inputs = make([]textinput.Model, 2)
	for i, prompt := range []string{"name: ", "file: "} {
		ti := textinput.New()
		ti.Prompt = prompt
		ti.Width = 40
		m.inputs[i] = ti
	}
	m.inputs[0].Placeholder = "capsule"
	m.inputs[1].Placeholder = "module.wasm"
	m.inputs[0].Focus()
	m.focusIdx = 0
}

func (m *browser) run(name string) tea.Cmd {
	asCBOR := m.asCBOR
	return func() tea.Msg {
		ctx, cancel := m.deadline()
		defer cancel()

		accept := message.TextPlain
		if asCBOR {
			accept = message.AppCBOR
		}
		body, err := m.client.Get(ctx, name, accept)
		if err != nil {
			return runResultMsg{err: err}
		}
		if !asCBOR {
			return runResultMsg{result: string(body)}
		}
		var v any
		if err := codec.Unmarshal(body, &v); err != nil {
			return runResultMsg{err: err}
		}
		return runResultMsg{result: fmt.Sprintf("%v\n\ncbor: %x", v, body)}
	}
}

func (m *browser) remove(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.deadline()
		defer cancel()
		if err := m.client.Delete(ctx, name); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{status: "removed " + name}
	}
}

func (m *browser) upload(name, path string) tea.Cmd {
	return func() tea.Msg {
		if name == "" || path == "" {
			return statusMsg{err: fmt.Errorf("name and file are required")}
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return statusMsg{err: err}
		}
		ctx, cancel := m.deadline()
		defer cancel()
		res, err := m.client.Put(ctx, name, code)
		if err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{status: fmt.Sprintf("uploaded %s (%s, %d blocks)",
			name, humanize.IBytes(uint64(len(code))), res.Blocks)}
	}
}

func (m *browser) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Sandbox"))
	b.WriteString(" ")
	b.WriteString(m.addr)
	if m.asCBOR {
		b.WriteString(metaStyle.Render("  [cbor]"))
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateList:
		if !m.loaded {
			b.WriteString("Loading capsules...")
			break
		}
		if len(m.entries) == 0 {
			b.WriteString(helpStyle.Render("No capsules. Press u to upload one."))
			b.WriteString("\n")
		}
		for i, e := range m.entries {
			line := m.formatEntry(e)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + e.Name))
				b.WriteString(line)
			} else {
				b.WriteString("  " + nameStyle.Render(e.Name) + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		} else if m.status != "" {
			b.WriteString(resultStyle.Render(m.status))
			b.WriteString("\n")
		}
		b.WriteString(helpStyle.Render("↑/↓ select • enter run • u upload • d delete • c toggle cbor • r refresh • q quit"))

	case stateUpload:
		b.WriteString("Upload a capsule\n\n")
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter upload • esc back"))

	case stateResult:
		e, _ := m.current()
		b.WriteString(fmt.Sprintf("Output of %s:\n\n", nameStyle.Render(e.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *browser) formatEntry(e codec.DirectoryEntry) string {
	return metaStyle.Render(fmt.Sprintf("  %s, %s, %d runs", e.Flavour,
		humanize.IBytes(uint64(e.Size)), e.Runs))
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/backend/fake"
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	funcStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	resultStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type callResultMsg struct {
	exc fake.Value
	val fake.Value
	err error
}

type interactiveModel struct {
	mod     *fake.Module
	methods []demoMethod

	state    modelState
	cursor   int
	selected demoMethod

	inputs []textinput.Model
	focus  int

	result callResultMsg
	err    error
}

func newInteractiveModel(mod *fake.Module, methods []demoMethod) interactiveModel {
	return interactiveModel{mod: mod, methods: methods, state: stateSelectFunc}
}

func (m interactiveModel) Init() tea.Cmd {
	return nil
}

func (m interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}
		case "esc":
			if m.state != stateSelectFunc {
				m.state = stateSelectFunc
				m.err = nil
				return m, nil
			}
			return m, tea.Quit
		}

		switch m.state {
		case stateSelectFunc:
			return m.updateSelectFunc(msg)
		case stateInputArgs:
			return m.updateInputArgs(msg)
		case stateShowResult:
			if msg.String() == "enter" {
				m.state = stateSelectFunc
				return m, nil
			}
		}
	case callResultMsg:
		m.result = msg
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}
	return m, nil
}

func (m interactiveModel) updateSelectFunc(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.methods)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.methods) == 0 {
			return m, nil
		}
		m.selected = m.methods[m.cursor]
		m.inputs = prepareInputs(m.selected)
		m.focus = 0
		if len(m.inputs) > 0 {
			m.inputs[0].Focus()
		}
		m.state = stateInputArgs
		if len(m.inputs) == 0 {
			return m, m.callFunction()
		}
	}
	return m, nil
}

func (m interactiveModel) updateInputArgs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.inputs[m.focus].Blur()
		m.focus = (m.focus + 1) % len(m.inputs)
		m.inputs[m.focus].Focus()
		return m, nil
	case "shift+tab", "up":
		m.inputs[m.focus].Blur()
		m.focus--
		if m.focus < 0 {
			m.focus = len(m.inputs) - 1
		}
		m.inputs[m.focus].Focus()
		return m, nil
	case "enter":
		if m.focus == len(m.inputs)-1 {
			return m, m.callFunction()
		}
		m.inputs[m.focus].Blur()
		m.focus++
		m.inputs[m.focus].Focus()
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func prepareInputs(dm demoMethod) []textinput.Model {
	inputs := make([]textinput.Model, len(dm.Params))
	for i, p := range dm.Params {
		ti := textinput.New()
		ti.Placeholder = p.Name + " (int32)"
		ti.CharLimit = 16
		ti.Width = 20
		inputs[i] = ti
	}
	return inputs
}

func (m interactiveModel) callFunction() tea.Cmd {
	mod := m.mod
	name := m.selected.Method.MangledMethodName()
	args := make([]fake.Value, len(m.inputs))
	for i, in := range m.inputs {
		n, err := strconv.ParseInt(strings.TrimSpace(in.Value()), 10, 32)
		if err != nil {
			return func() tea.Msg { return callResultMsg{err: fmt.Errorf("argument %q: %w", in.Value(), err)} }
		}
		args[i] = fake.Value{Kind: backend.ValI32, I: n}
	}
	return func() tea.Msg {
		exc, val, err := mod.Invoke(name, args)
		return callResultMsg{exc: exc, val: val, err: err}
	}
}

func (m interactiveModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tdnjit interactive") + "\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString(funcStyle.Render("Select a method:") + "\n\n")
		for i, dm := range m.methods {
			line := formatMethodSignature(dm)
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> "+line) + "\n")
			} else {
				b.WriteString(funcStyle.Render("  "+line) + "\n")
			}
		}
		b.WriteString("\n" + helpStyle.Render("up/down to move, enter to select, q to quit"))
	case stateInputArgs:
		b.WriteString(funcStyle.Render("Arguments for "+m.selected.Method.Name+":") + "\n\n")
		for i, in := range m.inputs {
			b.WriteString(fmt.Sprintf("  %s: %s\n", m.selected.Params[i].Name, in.View()))
		}
		if m.err != nil {
			b.WriteString("\n" + errorStyle.Render(m.err.Error()))
		}
		b.WriteString("\n" + helpStyle.Render("tab to move between fields, enter to call, esc to go back"))
	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
		} else if m.result.exc.Obj != nil || m.result.exc.I != 0 {
			b.WriteString(errorStyle.Render(fmt.Sprintf("exception: %+v", m.result.exc)) + "\n")
		} else {
			b.WriteString(resultStyle.Render(fmt.Sprintf("result: %d", m.result.val.I)) + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("enter to go back, q to quit"))
	}
	return b.String()
}

func runInteractive(mod *fake.Module, methods []demoMethod) error {
	p := tea.NewProgram(newInteractiveModel(mod, methods), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/llir/llvm/ir/types"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/irkit/engine"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/module"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
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

func newInteractiveCommand(opts *rootOptions) *cobra.Command {
	var jit bool
	var level string
	cmd := &cobra.Command{
		Use:   "interactive <file.ll>",
		Short: "Pick and run functions in a terminal UI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("interactive mode needs a terminal")
			}
			cfg, err := opts.engineConfig(cmd, jit, level)
			if err != nil {
				return err
			}
			p := tea.NewProgram(newInteractiveModel(args[0], cfg), tea.WithAltScreen())
			final, err := p.Run()
			if m, ok := final.(*interactiveModel); ok {
				m.close()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&jit, "jit", false, "use the compiler engine")
	cmd.Flags().StringVarP(&level, "opt", "O", "", "optimization level (0-3)")
	return cmd
}

type interactiveModel struct {
	err      error
	eng      *engine.Engine
	done     func()
	cfg      engine.Config
	filename string
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	name       string
	fn         module.Function
	resultType string
	params     []paramInfo
}

type paramInfo struct {
	name    string
	typ     types.Type
	typeStr string
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(filename string, cfg engine.Config) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		cfg:      cfg,
		state:    stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	eng   *engine.Engine
	done  func()
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

// loadModule parses and verifies the file and builds the engine.
func (m *interactiveModel) loadModule() tea.Msg {
	mod, done, err := loadModule(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	funcs, err := runnableFuncs(mod)
	if err != nil {
		done()
		return loadedMsg{err: err}
	}
	eng, err := engine.New(context.Background(), mod, m.cfg)
	if err != nil {
		done()
		return loadedMsg{err: err}
	}
	return loadedMsg{eng: eng, done: done, funcs: funcs}
}

// runnableFuncs lists the defined functions of mod.
func runnableFuncs(mod module.Module) ([]funcInfo, error) {
	fns, err := mod.Functions()
	if err != nil {
		return nil, err
	}
	var funcs []funcInfo
	for _, fn := range fns {
		if decl, _ := fn.IsDeclaration(); decl {
			continue
		}
		sig, err := fn.Signature()
		if err != nil {
			return nil, err
		}
		fi := funcInfo{name: fn.Name(), fn: fn}
		for i, p := range sig.Params {
			fi.params = append(fi.params, paramInfo{
				name:    fmt.Sprintf("arg%d", i),
				typ:     p,
				typeStr: irtypes.String(p),
			})
		}
		if !irtypes.IsVoid(sig.RetType) {
			fi.resultType = irtypes.String(sig.RetType)
		}
		funcs = append(funcs, fi)
	}
	return funcs, nil
}

func (m *interactiveModel) close() {
	if m.eng != nil {
		m.eng.Close(context.Background())
		m.eng = nil
	}
	if m.done != nil {
		m.done()
		m.done = nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.eng = msg.eng
		m.done = msg.done

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		ti := textinput.New()
		ti.Placeholder = p.typeStr
		ti.Prompt = p.name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	if m.eng == nil {
		return callResultMsg{err: fmt.Errorf("module not loaded")}
	}

	f := m.funcs[m.selected]
	args := make([]engine.GenericValue, len(m.inputs))
	for i, input := range m.inputs {
		v, err := parseArg(f.params[i].typ, input.Value())
		if err != nil {
			return callResultMsg{err: err}
		}
		args[i] = v
	}

	res, err := m.eng.Run(context.Background(), f.fn, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: res.String()}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.eng == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("IR Runner"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(m.cfg.Mode.String() + " " + m.cfg.OptLevel.String()))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("The module defines no functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + m.formatFunc(f)))
			} else {
				b.WriteString(cursor + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].typeStr))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
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

func (m *interactiveModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.params {
		params = append(params, p.name+": "+typeStyle.Render(p.typeStr))
	}
	result := ""
	if f.resultType != "" {
		result = " -> " + typeStyle.Render(f.resultType)
	}
	return funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")" + result
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/13illydakid/p-lizard-ext/internal/formstate"
	"github.com/13illydakid/p-lizard-ext/internal/popup"
)

// --- Messages ---

type viewMsg struct {
	view popup.View
	note string
	err  error
}

type focus int

const (
	focusNone focus = iota
	focusTask
	focusPrompt
	focusAnswer
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	pressedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42")).Padding(0, 1)
	buttonStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Padding(0, 1)
	activeQA     = lipgloss.NewStyle().Bold(true).Underline(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// model is the popup: three text controls, the role buttons, the QA
// selector and the image status, all mirrored from the host.
type model struct {
	ctx    context.Context
	client *client

	view   popup.View
	focus  focus
	task   textinput.Model
	prompt textarea.Model
	answer textarea.Model

	note string
	err  error
	busy bool
}

func newModel(ctx context.Context, c *client) model {
	task := textinput.New()
	task.Placeholder = "Task ID"
	task.CharLimit = 256
	task.Width = 48

	prompt := textarea.New()
	prompt.Placeholder = "Image and prompt"
	prompt.SetWidth(60)
	prompt.SetHeight(4)
	prompt.Blur()

	answer := textarea.New()
	answer.Placeholder = "Rewrite answer"
	answer.SetWidth(60)
	answer.SetHeight(4)
	answer.Blur()

	return model{ctx: ctx, client: c, task: task, prompt: prompt, answer: answer}
}

func runTUI(ctx context.Context, c *client) error {
	_, err := tea.NewProgram(newModel(ctx, c)).Run()
	return err
}

// call runs fn against the host off the UI goroutine.
func (m model) call(note string, fn func(ctx context.Context) (popup.View, error)) tea.Cmd {
	return func() tea.Msg {
		v, err := fn(m.ctx)
		return viewMsg{view: v, note: note, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return m.call("", m.client.View)
}

// apply copies the host's view into the controls that are not being edited.
func (m *model) apply(v popup.View) {
	m.view = v
	if m.focus != focusTask {
		m.task.SetValue(v.TaskID)
	}
	if m.focus != focusPrompt {
		m.prompt.SetValue(v.ImageAndPrompt)
	}
	if m.focus != focusAnswer {
		m.answer.SetValue(v.RewriteAnswer)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.busy = false
		m.err = msg.err
		if msg.err == nil {
			m.apply(msg.view)
			m.note = msg.note
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.focus != focusNone {
			return m.updateEditing(msg)
		}
		return m.updateNav(msg)
	}
	return m, nil
}

func (m model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m.blur()
	case tea.KeyTab:
		m2, save := m.blur()
		mm := m2.(model)
		next := m.focus%focusAnswer + 1
		return mm.setFocus(next), save
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusTask:
		m.task, cmd = m.task.Update(msg)
	case focusPrompt:
		m.prompt, cmd = m.prompt.Update(msg)
	case focusAnswer:
		m.answer, cmd = m.answer.Update(msg)
	}
	return m, cmd
}

// blur leaves the focused control and sends its value to the host.
func (m model) blur() (tea.Model, tea.Cmd) {
	field, value := "", ""
	switch m.focus {
	case focusTask:
		field, value = "taskId", m.task.Value()
		m.task.Blur()
	case focusPrompt:
		field, value = "imageAndPrompt", m.prompt.Value()
		m.prompt.Blur()
	case focusAnswer:
		field, value = "rewriteAnswer", m.answer.Value()
		m.answer.Blur()
	}
	m.focus = focusNone
	if field == "" {
		return m, nil
	}
	return m, m.call("", func(ctx context.Context) (popup.View, error) {
		return m.client.SetField(ctx, field, value)
	})
}

func (m model) setFocus(f focus) model {
	m.focus = f
	switch f {
	case focusTask:
		m.task.Focus()
	case focusPrompt:
		m.prompt.Focus()
	case focusAnswer:
		m.answer.Focus()
	}
	return m
}

func (m model) updateNav(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "esc":
		return m, tea.Quit
	case "tab", "enter", "i":
		return m.setFocus(focusTask), nil
	case "p":
		return m.setFocus(focusPrompt), nil
	case "w":
		return m.setFocus(focusAnswer), nil
	case "1", "2", "3", "4", "5":
		return m, m.call("", func(ctx context.Context) (popup.View, error) {
			return m.client.SelectQA(ctx, key)
		})
	case "a", "r":
		role := string(formstate.RoleAnnotating)
		if key == "r" {
			role = string(formstate.RoleReviewing)
		}
		return m, m.call("", func(ctx context.Context) (popup.View, error) {
			return m.client.ToggleRole(ctx, role)
		})
	case "d":
		return m, m.call("image deleted", m.client.DeleteImage)
	case "x":
		return m, m.call("form cleared", func(ctx context.Context) (popup.View, error) {
			return m.client.Clear(ctx, "all")
		})
	case "t":
		m.busy = true
		return m, m.call("task id pulled", func(ctx context.Context) (popup.View, error) {
			r, err := m.client.PullTaskID(ctx)
			if err == nil && !r.Found {
				err = fmt.Errorf("no task id on the page")
			}
			return r.View, err
		})
	case "g":
		m.busy = true
		return m, m.call("prompt and answer pulled", func(ctx context.Context) (popup.View, error) {
			r, err := m.client.PullQA(ctx)
			if err == nil && !r.Found {
				err = fmt.Errorf("no prompt or answer on the page")
			}
			return r.View, err
		})
	case "f":
		m.busy = true
		return m, m.call("submitted", func(ctx context.Context) (popup.View, error) {
			if err := m.client.Fill(ctx); err != nil {
				return popup.View{}, err
			}
			return m.client.View(ctx)
		})
	}
	return m, nil
}

func (m model) roleButtons() string {
	var out []string
	for _, r := range []formstate.Role{formstate.RoleAnnotating, formstate.RoleReviewing} {
		style := buttonStyle
		if m.view.AnnotatorOrReviewer == r {
			style = pressedStyle
		}
		out = append(out, style.Render(string(r)))
	}
	return strings.Join(out, " ")
}

func (m model) qaSelector() string {
	var out []string
	for _, k := range formstate.QAKeys {
		if k == m.view.ActiveQA {
			out = append(out, activeQA.Render("["+k+"]"))
		} else {
			out = append(out, " "+k+" ")
		}
	}
	return strings.Join(out, "")
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("p-lizard") + "\n\n")
	b.WriteString(labelStyle.Render("Task ID") + m.task.View() + "\n")
	b.WriteString(labelStyle.Render("Role") + m.roleButtons() + "\n")
	b.WriteString(labelStyle.Render("QA") + m.qaSelector() + "\n")
	b.WriteString(labelStyle.Render("Image") + m.view.ImageStatus + "\n\n")
	b.WriteString(labelStyle.Render("Prompt") + "\n" + m.prompt.View() + "\n")
	b.WriteString(labelStyle.Render("Answer") + "\n" + m.answer.View() + "\n\n")

	switch {
	case m.busy:
		b.WriteString("working...\n")
	case m.err != nil:
		b.WriteString(errStyle.Render(m.err.Error()) + "\n")
	case m.note != "":
		b.WriteString(m.note + "\n")
	}

	if m.focus != focusNone {
		b.WriteString(helpStyle.Render("esc save · tab next field"))
	} else {
		b.WriteString(helpStyle.Render("i/p/w edit · a/r role · 1-5 qa · f fill · t pull task · g pull qa · d drop image · x clear · q quit"))
	}
	return b.String()
}

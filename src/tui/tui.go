// Package tui renders the controller as a small terminal panel.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"page-ocr-translate/src/controller"
	"page-ocr-translate/src/notify"
)

type mode int

const (
	modeMain mode = iota
	modeConfirm
	modeKeyInput
)

type action string

const (
	actionClear     action = "clear"
	actionTranslate action = "translate"
	actionDeleteKey action = "delete key"
)

type viewMsg struct{ view controller.View }

type preparedMsg struct {
	action action
	cmd    controller.Command
	err    error
}

type executedMsg struct {
	action action
	err    error
}

type credentialMsg struct {
	status controller.Status
	err    error
}

type resultsOpenedMsg struct{ err error }

type noticeMsg struct{ notice notify.Notice }

type Options struct {
	Controller *controller.Controller
	Notices    *notify.Center
	// ResultsURL is shown so the user knows where the results window lives.
	ResultsURL string
	PageTitle  string
}

// Model is the bubbletea model of the control panel.
type Model struct {
	ctx        context.Context
	ctl        *controller.Controller
	notices    <-chan notify.Notice
	resultsURL string
	pageTitle  string

	view    controller.View
	loaded  bool
	mode    mode
	pending controller.Command
	action  action
	keyBuf  string
	status  string
	isErr   bool
}

func New(ctx context.Context, opts Options) Model {
	m := Model{
		ctx:        ctx,
		ctl:        opts.Controller,
		resultsURL: opts.ResultsURL,
		pageTitle:  opts.PageTitle,
	}
	if opts.Notices != nil {
		ch, _ := opts.Notices.Subscribe(16)
		m.notices = ch
	}
	return m
}

// Run shows the panel until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(ctx, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadView(), m.waitNotice())
}

func (m Model) loadView() tea.Cmd {
	return func() tea.Msg { return viewMsg{view: m.ctl.Open(m.ctx)} }
}

func (m Model) waitNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	ch := m.notices
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg{notice: n}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.view = msg.view
		m.loaded = true
		return m, nil
	case preparedMsg:
		if msg.err != nil {
			m.setError(describe(msg.err))
			return m, nil
		}
		m.mode = modeConfirm
		m.pending = msg.cmd
		m.action = msg.action
		return m, nil
	case executedMsg:
		return m.handleExecuted(msg)
	case credentialMsg:
		m.view.Credential = msg.status
		if msg.err != nil {
			m.setError(msg.status.Text)
			return m, nil
		}
		m.mode = modeMain
		m.keyBuf = ""
		m.setStatus(msg.status.Text)
		return m, nil
	case resultsOpenedMsg:
		if msg.err != nil {
			m.setError("Could not open results: " + msg.err.Error())
		} else {
			m.setStatus("Results window opened.")
		}
		return m, nil
	case noticeMsg:
		if msg.notice.Level == notify.Alert {
			m.setError(msg.notice.Text)
		} else {
			m.setStatus(msg.notice.Text)
		}
		return m, tea.Batch(m.waitNotice(), m.loadView())
	case tea.KeyMsg:
		switch m.mode {
		case modeConfirm:
			return m.updateConfirm(msg)
		case modeKeyInput:
			return m.updateKeyInput(msg)
		default:
			return m.updateMain(msg)
		}
	}
	return m, nil
}

func (m Model) handleExecuted(msg executedMsg) (tea.Model, tea.Cmd) {
	m.mode = modeMain
	m.pending = controller.Command{}
	if msg.err != nil {
		m.setError(fmt.Sprintf("%s failed: %v", msg.action, msg.err))
		return m, nil
	}
	switch msg.action {
	case actionClear:
		m.setStatus("Selection cleared.")
		view := m.view
		ctx, ctl := m.ctx, m.ctl
		return m, func() tea.Msg { return viewMsg{view: ctl.AfterClear(ctx, view)} }
	case actionTranslate:
		m.setStatus("Translating... results will open when ready.")
	case actionDeleteKey:
		m.setStatus("API key deleted.")
		return m, m.loadView()
	}
	return m, nil
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx, ctl := m.ctx, m.ctl
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "t":
		m.view = ctl.ToggleMode(ctx, m.view)
		if m.view.ModeKnown {
			if m.view.Active {
				m.setStatus("Selection mode on: click images to select them.")
			} else {
				m.setStatus("Selection mode off.")
			}
		} else {
			m.setError("Page is not reachable.")
		}
		return m, nil
	case "c":
		return m, func() tea.Msg {
			cmd, err := ctl.PrepareClear(ctx)
			return preparedMsg{action: actionClear, cmd: cmd, err: err}
		}
	case "x", "enter":
		return m, func() tea.Msg {
			cmd, err := ctl.PrepareTranslate(ctx)
			return preparedMsg{action: actionTranslate, cmd: cmd, err: err}
		}
	case "d":
		return m, func() tea.Msg {
			return preparedMsg{action: actionDeleteKey, cmd: ctl.PrepareDeleteCredential(ctx)}
		}
	case "o":
		return m, func() tea.Msg { return resultsOpenedMsg{err: ctl.OpenResults(ctx)} }
	case "k":
		m.mode = modeKeyInput
		m.keyBuf = ""
		return m, nil
	case "r":
		return m, m.loadView()
	}
	return m, nil
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		cmd, act, ctx := m.pending, m.action, m.ctx
		return m, func() tea.Msg { return executedMsg{action: act, err: cmd.Execute(ctx)} }
	case "n", "N", "esc":
		m.mode = modeMain
		m.pending = controller.Command{}
		m.setStatus("Cancelled.")
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeMain
		m.keyBuf = ""
		return m, nil
	case tea.KeyEnter:
		raw, ctx, ctl := m.keyBuf, m.ctx, m.ctl
		return m, func() tea.Msg {
			st, err := ctl.SaveCredential(ctx, raw)
			return credentialMsg{status: st, err: err}
		}
	case tea.KeyBackspace:
		if r := []rune(m.keyBuf); len(r) > 0 {
			m.keyBuf = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyRunes, tea.KeySpace:
		m.keyBuf += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.isErr = false
}

func (m *Model) setError(s string) {
	m.status = s
	m.isErr = true
}

func describe(err error) string {
	switch {
	case errors.Is(err, controller.ErrNoSelection):
		return "Please select at least one image first."
	default:
		return err.Error()
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Page OCR Translate"))
	if m.pageTitle != "" {
		b.WriteString(" " + hintStyle.Render(m.pageTitle))
	}
	b.WriteString("\n\n")

	count := "unknown"
	if !m.loaded {
		count = "..."
	} else if m.view.CountKnown {
		count = fmt.Sprintf("%d", m.view.Count)
	}
	b.WriteString(labelStyle.Render("Selected: ") + valueStyle.Render(count) + "\n")

	modeText := hintStyle.Render("unknown")
	if m.view.ModeKnown {
		if m.view.Active {
			modeText = activeStyle.Render("selecting")
		} else {
			modeText = valueStyle.Render("off")
		}
	}
	b.WriteString(labelStyle.Render("Selection mode: ") + modeText + "\n")

	cred := m.view.Credential
	credStyle := warnStyle
	switch cred.Kind {
	case controller.StatusOK:
		credStyle = okStyle
	case controller.StatusError:
		credStyle = errStyle
	}
	if cred.Text != "" {
		b.WriteString(labelStyle.Render("API key: ") + credStyle.Render(cred.Text) + "\n")
	}
	if m.resultsURL != "" {
		b.WriteString(labelStyle.Render("Results: ") + hintStyle.Render(m.resultsURL) + "\n")
	}
	b.WriteString("\n")

	switch m.mode {
	case modeConfirm:
		b.WriteString(warnStyle.Render(m.pending.Prompt) + "\n")
		b.WriteString(hintStyle.Render("y confirm  n cancel"))
	case modeKeyInput:
		b.WriteString(labelStyle.Render("Enter API key: ") + strings.Repeat("*", len([]rune(m.keyBuf))) + "\n")
		b.WriteString(hintStyle.Render("enter save  esc cancel"))
	default:
		b.WriteString(hintStyle.Render("t toggle selection  x translate  c clear  o results\nk set key  d delete key  r refresh  q quit"))
	}

	if m.status != "" {
		style := okStyle
		if m.isErr {
			style = errStyle
		}
		b.WriteString("\n\n" + style.Render(m.status))
	}
	return panelStyle.Render(b.String())
}

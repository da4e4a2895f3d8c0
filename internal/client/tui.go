package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"linechat/internal/protocol"
)

type (
	receivedMsg     Event
	disconnectedMsg struct{ err error }
	sendFailedMsg   struct{ err error }
)

type entryKind int

const (
	entryLine entryKind = iota
	entryNotice
	entryError
)

type entry struct {
	kind entryKind
	text string
}

// TUIModel is the Bubble Tea model of the chat screen.
type TUIModel struct {
	textInput textinput.Model
	viewport  viewport.Model
	entries   []entry
	session   *Session
	processor *Processor
	server    string
	ready     bool
	err       error
}

// chrome is the number of rows taken by everything but the scrollback.
const chrome = 7

func NewTUIModel(sess *Session, proc *Processor, server string) *TUIModel {
	input := textinput.New()
	input.Placeholder = "Type a message or /help…"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	return &TUIModel{
		textInput: input,
		viewport:  viewport.New(80, 20),
		entries:   make([]entry, 0, 64),
		session:   sess,
		processor: proc,
		server:    server,
	}
}

func (model *TUIModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.receiveCmd())
}

// Err is the error that ended the session, if any.
func (model *TUIModel) Err() error {
	return model.err
}

func (model *TUIModel) receiveCmd() tea.Cmd {
	return func() tea.Msg {
		ev, err := model.session.Receive()
		if err != nil {
			return disconnectedMsg{err: err}
		}
		return receivedMsg(ev)
	}
}

func (model *TUIModel) sendCmd(m protocol.Message) tea.Cmd {
	return func() tea.Msg {
		if err := model.session.Send(m); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.WindowSizeMsg:
		model.viewport.Width = typed.Width
		model.viewport.Height = max(typed.Height-chrome, 3)
		model.textInput.Width = max(typed.Width-6, 10)
		model.ready = true
		model.refresh()
		return model, nil

	case tea.KeyMsg:
		switch typed.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return model, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			model.viewport, cmd = model.viewport.Update(typed)
			return model, cmd
		case tea.KeyEnter:
			value := model.textInput.Value()
			model.textInput.SetValue("")
			return model, model.submit(value)
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typed)
		return model, cmd

	case receivedMsg:
		model.push(entryLine, Event(typed).String())
		return model, model.receiveCmd()

	case disconnectedMsg:
		model.err = typed.err
		return model, tea.Quit

	case sendFailedMsg:
		model.err = fmt.Errorf("send: %w", typed.err)
		return model, tea.Quit
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(message)
	return model, cmd
}

func (model *TUIModel) submit(value string) tea.Cmd {
	outcome, err := model.processor.Process(value)
	if err != nil {
		var fileErr *LocalFileError
		if errors.As(err, &fileErr) {
			model.push(entryError, fileErr.Error())
		} else {
			model.push(entryError, "Error: "+err.Error())
		}
		return nil
	}
	if outcome.Notice != "" {
		model.push(entryNotice, outcome.Notice)
	}
	if outcome.Quit {
		return tea.Quit
	}
	if outcome.Message != nil {
		return model.sendCmd(outcome.Message)
	}
	return nil
}

func (model *TUIModel) push(kind entryKind, text string) {
	model.entries = append(model.entries, entry{kind: kind, text: text})
	model.refresh()
}

func (model *TUIModel) refresh() {
	lines := make([]string, 0, len(model.entries))
	for _, e := range model.entries {
		lines = append(lines, model.renderEntry(e))
	}
	model.viewport.SetContent(strings.Join(lines, "\n"))
	model.viewport.GotoBottom()
}

func (model *TUIModel) View() string {
	identity := model.processor.Identity()
	header := chatHeaderStyle.Render(strings.Join([]string{
		"linechat",
		fmt.Sprintf("User %s", identity.Username),
		fmt.Sprintf("Server %s", model.server),
	}, dividerStyle))

	var status string
	if model.err != nil {
		status = errorStyle.Render("Connection error: " + model.err.Error())
	} else {
		status = connectedStyle.Render("Connected")
	}

	body := model.viewport.View()
	if len(model.entries) == 0 {
		body = systemMessageStyle.Render("No messages yet. Say hi, or type /help.")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		status,
		body,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("Enter send • PgUp/PgDn scroll • Esc or /quit to leave"),
	)
}

// RunTUI runs the chat screen until the user quits or the relay hangs up.
func RunTUI(sess *Session, proc *Processor, server string) error {
	program := tea.NewProgram(NewTUIModel(sess, proc, server), tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return err
	}
	if model, ok := final.(*TUIModel); ok {
		return model.Err()
	}
	return nil
}

func (model *TUIModel) renderEntry(e entry) string {
	switch e.kind {
	case entryNotice:
		return systemMessageStyle.Render(e.text)
	case entryError:
		return errorLineStyle.Render(e.text)
	}
	stamp, sender, body, ok := splitChatLine(e.text)
	if !ok {
		return messageBodyStyle.Render(e.text)
	}
	var nameStyle lipgloss.Style
	if sender == model.processor.Identity().Username {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(sender))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		timestampStyle.Render("["+stamp+"]"), " ",
		nameStyle.Render(sender), ": ",
		messageBodyStyle.Render(body))
}

// splitChatLine picks apart "dd/mm/yyyy HH:MM sender: body".
func splitChatLine(line string) (stamp, sender, body string, ok bool) {
	n := len(protocol.TimeLayout)
	if len(line) <= n+1 || line[n] != ' ' {
		return "", "", "", false
	}
	if _, err := time.Parse(protocol.TimeLayout, line[:n]); err != nil {
		return "", "", "", false
	}
	sender, body, ok = strings.Cut(line[n+1:], ": ")
	if !ok || sender == "" {
		return "", "", "", false
	}
	return line[:n], sender, body, true
}

package chatcmder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/supportdesk/pkg/llm"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
	"github.com/papercomputeco/supportdesk/pkg/session"
	"github.com/papercomputeco/supportdesk/pkg/termrender"
)

// chromeHeight is the number of lines below the viewport: status and input.
const chromeHeight = 2

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	statusStyle    = lipgloss.NewStyle().Faint(true)
)

type replyMsg struct {
	reply *session.Reply
}

type errMsg struct {
	err error
}


type model struct {
	ctx      context.Context
	sess     *session.Session
	style    string
	renderer *termrender.Renderer

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	// pending is the inquiry of the submission in flight. It is shown after
	// the retained history until the run records it.
	pending string
	status  string
	busy    bool
	width   int
	height  int
}

func newModel(ctx context.Context, sess *session.Session, style string) model {
	input := textinput.New()
	input.Placeholder = "Ask a question about " + sess.Settings().WebsiteURL
	input.Prompt = "> "
	input.Focus()

	m := model{
		ctx:      ctx,
		sess:     sess,
		style:    style,
		input:    input,
		viewport: viewport.New(termrender.DefaultWidth, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		status:   "Type a question, /reset to start over, /quit to leave.",
		width:    termrender.DefaultWidth,
		height:   20 + chromeHeight,
	}
	m.renderer, _ = termrender.NewStyled(style, m.width)
	return m
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		if r, err := termrender.NewStyled(m.style, msg.Width); err == nil {
			m.renderer = r
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.handleEnter()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case replyMsg:
		m.busy = false
		m.pending = ""
		m.status = replyStatus(msg.reply)
		m.refresh()
		return m, nil

	case errMsg:
		m.busy = false
		m.pending = ""
		m.status = msg.err.Error()
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleEnter() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}

	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()

	switch text {
	case "":
		return m, nil
	case "/quit":
		return m, tea.Quit
	case "/reset":
		m.sess.Reset()
		m.status = "Conversation cleared."
		m.refresh()
		return m, nil
	}

	m.busy = true
	m.pending = text
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.submit(text))
}

func (m model) submit(inquiry string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.sess.Submit(m.ctx, inquiry)
		if err != nil {
			return errMsg{err: err}
		}
		return replyMsg{reply: reply}
	}
}

// turns returns what the transcript shows: the session's retained history,
// then the pending inquiry.
func (m model) turns() []llm.ConversationTurn {
	turns := m.sess.History()
	if m.pending != "" {
		turns = append(turns, llm.ConversationTurn{Role: llm.RoleUser, Text: m.pending})
	}
	return turns
}

// refresh re-renders the transcript into the viewport.
func (m *model) refresh() {
	turns := m.turns()
	blocks := make([]string, 0, len(turns))
	for _, t := range turns {
		switch {
		case t.Role == llm.RoleUser:
			blocks = append(blocks, userStyle.Render("You")+"\n"+t.Text)
		case strings.HasPrefix(t.Text, pipeline.ErrorMarker):
			blocks = append(blocks, errorStyle.Render("Support")+"\n"+t.Text)
		default:
			blocks = append(blocks, assistantStyle.Render("Support")+"\n"+m.renderer.Render(t.Text))
		}
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	status := m.status
	if m.busy {
		status = m.spinner.View() + " Agents are working on your question..."
	}
	status = statusStyle.Render(ansi.Truncate(status, m.width, "…"))

	return m.viewport.View() + "\n" + status + "\n" + m.input.View()
}

func replyStatus(reply *session.Reply) string {
	if reply.Failed {
		return fmt.Sprintf("%s after %s", reply.Kind, reply.Elapsed.Round(100 * time.Millisecond))
	}

	last := ""
	if n := len(reply.Progress); n > 0 {
		last = reply.Progress[n-1] + " "
	}
	return fmt.Sprintf("%s%d tokens in %s", last, reply.Usage.TotalTokens, reply.Elapsed.Round(100 * time.Millisecond))
}

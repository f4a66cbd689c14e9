package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/gatechat/internal/chat"
	"github.com/raphaelgruber/gatechat/internal/models"
)

// Theme holds the color scheme for the chat session.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// chatDeltaMsg carries one streamed text fragment.
type chatDeltaMsg struct {
	text string
}

// chatDoneMsg signals the end of a stream with the final content.
type chatDoneMsg struct {
	content string
}

// chatFailedMsg signals a send that never produced a stream.
type chatFailedMsg struct {
	err error
}

// transcriptLine is one rendered entry of the session transcript.
type transcriptLine struct {
	role    models.Role
	content string
}

// chatModel is the bubbletea model for an interactive session.
type chatModel struct {
	conv       models.Conversation
	transcript []transcriptLine
	input      textinput.Model
	spin       spinner.Model
	theme      Theme
	streaming  bool
	current    string
	streamCh   chan tea.Msg
	quitting   bool
}

// newChatModel seeds the transcript from the stored conversation.
func newChatModel(conv models.Conversation) (chatModel, error) {
	msgs, err := convStore.Messages(conv.ID)
	if err != nil {
		return chatModel{}, err
	}

	transcript := make([]transcriptLine, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		transcript = append(transcript, transcriptLine{role: msg.Role, content: msg.Content})
	}

	in := textinput.New()
	in.Placeholder = "Message…"
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		conv:       conv,
		transcript: transcript,
		input:      in,
		spin:       sp,
		theme:      defaultTheme,
	}, nil
}

// Init returns the initial command.
func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.streaming {
				// First Ctrl+C stops the stream, a second one quits.
				orch.Cancel()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if !m.streaming {
				m.quitting = true
				return m, tea.Quit
			}
		case "enter":
			if m.streaming {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.transcript = append(m.transcript, transcriptLine{role: models.RoleUser, content: text})
			m.streaming = true
			m.current = ""
			m.streamCh = make(chan tea.Msg, 16)
			return m, tea.Batch(m.startStream(text), m.waitForStream(), m.spin.Tick)
		}

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case chatDeltaMsg:
		m.current += msg.text
		return m, m.waitForStream()

	case chatDoneMsg:
		m.streaming = false
		m.current = ""
		if msg.content != "" {
			m.transcript = append(m.transcript, transcriptLine{role: models.RoleAssistant, content: msg.content})
		}
		return m, nil

	case chatFailedMsg:
		m.streaming = false
		m.current = ""
		m.transcript = append(m.transcript, transcriptLine{
			role:    models.RoleAssistant,
			content: "❌ " + msg.err.Error(),
		})
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startStream launches the send in the background; results arrive on
// m.streamCh.
func (m chatModel) startStream(text string) tea.Cmd {
	ch := m.streamCh
	convID := m.conv.ID
	return func() tea.Msg {
		go func() {
			content, err := orch.Send(context.Background(), chat.SendRequest{
				ConversationID: convID,
				Text:           text,
			}, func(delta string) {
				ch <- chatDeltaMsg{text: delta}
			})
			if err != nil {
				ch <- chatFailedMsg{err: err}
				return
			}
			ch <- chatDoneMsg{content: content}
		}()
		return nil
	}
}

// waitForStream delivers the next stream message to Update.
func (m chatModel) waitForStream() tea.Cmd {
	ch := m.streamCh
	return func() tea.Msg {
		return <-ch
	}
}

// View renders the session.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatModel) renderContent() string {
	var b strings.Builder

	title := m.conv.Title
	if chat.IsDefaultTitle(title) {
		title = models.DefaultTitle
	}
	b.WriteString(m.theme.hintStyle().Render(
		fmt.Sprintf("%s — %s/%s", title, m.conv.Provider, m.conv.Model)))
	b.WriteString("\n\n")

	for _, line := range m.transcript {
		b.WriteString(m.renderLine(line))
	}

	if m.streaming {
		b.WriteString(m.theme.assistantStyle().Render("assistant"))
		b.WriteString("\n")
		if m.current == "" {
			b.WriteString(m.spin.View())
			b.WriteString("\n\n")
		} else {
			b.WriteString(m.current)
			b.WriteString("▌\n\n")
		}
		b.WriteString(m.theme.hintStyle().Render("Streaming… Ctrl+C to stop"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.theme.hintStyle().Render("Enter to send, Esc to leave"))
	b.WriteString("\n")
	return b.String()
}

func (m chatModel) renderLine(line transcriptLine) string {
	label := m.theme.assistantStyle().Render("assistant")
	if line.role == models.RoleUser {
		label = m.theme.userStyle().Render("you")
	}
	content := line.content
	if strings.HasPrefix(content, "❌ ") {
		content = m.theme.errorStyle().Render(content)
	}
	return label + "\n" + content + "\n\n"
}

// Package display formats parsed responses for the terminal. Pure
// formatting, no generation calls.
package display

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"council/internal/parser"
)

// DecisionPrompt closes a forced-decision interrupt.
const DecisionPrompt = "— your decision."

const systemPrefix = "[SYSTEM]"

// Flow selects the output shape.
type Flow string

const (
	FlowStandard  Flow = "standard"
	FlowDebate    Flow = "debate_turn"
	FlowInterrupt Flow = "debate_interrupt"
	FlowSpectator Flow = "spectator"
	FlowError     Flow = "error"
)

var (
	speakerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	chatStyle     = lipgloss.NewStyle()
	stageStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#7a8699"))
	systemStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
	decisionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFC107"))
)

// Formatter renders turns for the terminal. Styling can be disabled for
// plain output (pipes, transcripts).
type Formatter struct {
	plain bool
}

// New returns a styled formatter; plain disables ANSI styling.
func New(plain bool) *Formatter {
	return &Formatter{plain: plain}
}

// Format renders one parsed response. Thought is never rendered.
func (f *Formatter) Format(p parser.Parsed, flow Flow, speaker string) string {
	chat := strings.TrimSpace(p.Chat)
	if chat == "" {
		return ""
	}

	switch flow {
	case FlowSpectator:
		return f.style(stageStyle, chat)

	case FlowError:
		return f.style(systemStyle, systemPrefix) + " " + f.style(chatStyle, chat)

	case FlowInterrupt:
		return f.named(speaker, chat) + "\n\n" + f.style(decisionStyle, DecisionPrompt)

	default:
		return f.named(speaker, chat)
	}
}

// System renders a system message outside any parsed response.
func (f *Formatter) System(msg string) string {
	return f.style(systemStyle, systemPrefix) + " " + msg
}

func (f *Formatter) named(speaker, chat string) string {
	if speaker == "" {
		return f.style(chatStyle, chat)
	}
	return f.style(speakerStyle, strings.ToUpper(speaker)+":") + " " + f.style(chatStyle, chat)
}

func (f *Formatter) style(s lipgloss.Style, text string) string {
	if f.plain {
		return text
	}
	return s.Render(text)
}

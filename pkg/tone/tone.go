// Package tone maps signed values to a presentation colour. Callers decide
// the tone from data; only the painter knows about terminals.
package tone

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

type Tone int

const (
	Neutral Tone = iota
	Positive
	Negative
)

func (t Tone) String() string {
	switch t {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "neutral"
	}
}

// ForChange returns Positive for gains, Negative for losses and Neutral for zero.
func ForChange(d decimal.Decimal) Tone {
	switch d.Sign() {
	case 1:
		return Positive
	case -1:
		return Negative
	default:
		return Neutral
	}
}

// Painter renders text in the colour of its tone.
type Painter struct {
	styles map[Tone]lipgloss.Style
	label  lipgloss.Style
}

// NewPainter builds a painter for w. Colour is dropped automatically when w
// is not a terminal.
func NewPainter(w io.Writer) *Painter {
	r := lipgloss.NewRenderer(w)
	return &Painter{
		styles: map[Tone]lipgloss.Style{
			Positive: r.NewStyle().Foreground(lipgloss.Color("42")),
			Negative: r.NewStyle().Foreground(lipgloss.Color("196")),
			Neutral:  r.NewStyle().Foreground(lipgloss.Color("250")),
		},
		label: r.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
	}
}

func (p *Painter) Paint(t Tone, s string) string {
	style, ok := p.styles[t]
	if !ok {
		return s
	}
	return style.Render(s)
}

// Change paints d with a leading sign.
func (p *Painter) Change(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.Sign() > 0 {
		s = "+" + s
	}
	return p.Paint(ForChange(d), s)
}

func (p *Painter) Label(s string) string {
	return p.label.Render(s)
}

package tone

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestForChange(t *testing.T) {
	tests := []struct {
		in   string
		want Tone
	}{
		{"1.25", Positive},
		{"-0.01", Negative},
		{"0", Neutral},
		{"0.000", Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ForChange(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestPainterWithoutTerminalIsPlain(t *testing.T) {
	p := NewPainter(&bytes.Buffer{})

	assert.Equal(t, "+2.50", p.Change(decimal.RequireFromString("2.5")))
	assert.Equal(t, "-1.00", p.Change(decimal.NewFromInt(-1)))
	assert.Equal(t, "0.00", p.Change(decimal.Zero))
	assert.Equal(t, "AAPL", p.Label("AAPL"))
	assert.Equal(t, "x", p.Paint(Tone(42), "x"))
}

func TestToneString(t *testing.T) {
	assert.Equal(t, "positive", Positive.String())
	assert.Equal(t, "negative", Negative.String())
	assert.Equal(t, "neutral", Neutral.String())
}

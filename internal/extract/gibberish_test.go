package extract

import (
	"strings"
	"testing"
)

func TestIsGibberish(t *testing.T) {
	cfg := DefaultGibberishConfig()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "clean english text",
			text: "The board of directors approved the annual report for fiscal year 2023.",
			want: false,
		},
		{
			name: "clean chinese text",
			text: "本公司董事会及全体董事保证本公告内容不存在任何虚假记载或误导性陈述。",
			want: false,
		},
		{
			name: "short text never judged",
			text: "�����",
			want: false,
		},
		{
			name: "empty text",
			text: "",
			want: false,
		},
		{
			name: "whitespace only",
			text: "   \n\t  \n   ",
			want: false,
		},
		{
			name: "replacement chars above threshold",
			text: "quarterly ��� results ��� statement",
			want: true,
		},
		{
			name: "replacement chars below threshold",
			text: strings.Repeat("a", 99) + "�",
			want: false,
		},
		{
			name: "private use area glyphs",
			text: strings.Repeat("", 10),
			want: true,
		},
		{
			name: "control characters",
			text: "report\x01\x02\x03\x04\x05\x06 for the year\x07\x08 ended" + strings.Repeat("\x01", 5),
			want: true,
		},
		{
			name: "whitespace not counted as unprintable",
			text: "a  b  c  d  e  f  g  h  i  j  k  l  m  n  o  p  q  r",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.IsGibberish(tt.text); got != tt.want {
				t.Errorf("IsGibberish(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsGibberishThresholds(t *testing.T) {
	// 100 runes, 6 of them replacements: above the 5% default, below 10%.
	text := strings.Repeat("x", 94) + strings.Repeat("�", 6)

	strict := GibberishConfig{ReplacementRatio: 0.05, UnprintableRatio: 0.10, MinTextLength: 20}
	if !strict.IsGibberish(text) {
		t.Error("expected gibberish at 6% replacements with 5% threshold")
	}

	lenient := GibberishConfig{ReplacementRatio: 0.10, UnprintableRatio: 0.10, MinTextLength: 20}
	if lenient.IsGibberish(text) {
		t.Error("did not expect gibberish at 6% replacements with 10% threshold")
	}

	tiny := GibberishConfig{ReplacementRatio: 0.05, UnprintableRatio: 0.10, MinTextLength: 200}
	if tiny.IsGibberish(text) {
		t.Error("did not expect gibberish below the minimum text length")
	}
}

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLenient(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			name: "plain object",
			in:   `{"category":"REJECTED","confidence":0.9}`,
			want: map[string]any{"category": "REJECTED", "confidence": 0.9},
		},
		{
			name: "fenced with language",
			in:   "```json\n{\"category\":\"OFFER\"}\n```",
			want: map[string]any{"category": "OFFER"},
		},
		{
			name: "fenced without language",
			in:   "```\n{\"category\":\"OFFER\"}```",
			want: map[string]any{"category": "OFFER"},
		},
		{
			name: "leading prose and trailing text",
			in:   `Here you go: {"category":"OTHER"} hope this helps`,
			want: map[string]any{"category": "OTHER"},
		},
		{
			name: "braces inside strings",
			in:   `{"role":"Engineer {Backend}","company":"A}B"}`,
			want: map[string]any{"role": "Engineer {Backend}", "company": "A}B"},
		},
		{
			name: "truncated inside string value",
			in:   `{"category":"INTERVIEW","company":"Acme Cor`,
			want: map[string]any{"category": "INTERVIEW", "company": "Acme Cor"},
		},
		{
			name: "truncated after colon",
			in:   `{"category":"INTERVIEW","company":`,
			want: map[string]any{"category": "INTERVIEW"},
		},
		{
			name: "truncated mid number",
			in:   `{"category":"REJECTED","confidence":0.`,
			want: map[string]any{"category": "REJECTED"},
		},
		{
			name: "truncated inside key",
			in:   `{"category":"REJECTED","confid`,
			want: map[string]any{"category": "REJECTED"},
		},
		{
			name: "trailing comma",
			in:   `{"category":"REJECTED",`,
			want: map[string]any{"category": "REJECTED"},
		},
		{
			name: "escaped quote in string",
			in:   `{"role":"\"Lead\" Dev","category":"OTHER"}`,
			want: map[string]any{"role": `"Lead" Dev`, "category": "OTHER"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			require.NoError(t, ParseLenient(tt.in, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLenient_Unrecoverable(t *testing.T) {
	for _, in := range []string{
		"",
		"no json here",
		`{"category"`,
		`{"a": tru`,
	} {
		var got map[string]any
		err := ParseLenient(in, &got)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

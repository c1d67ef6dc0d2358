package llm

import (
	"testing"

	pipeerr "shipline/internal/errors"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```\nenjoy", `{"a":1}`},
		{"plain fence", "```\n[1,2]\n```", `[1,2]`},
		{"prose around object", `Sure! {"a":1} Let me know.`, `{"a":1}`},
		{"prose around array", `The tickets: [{"id":"T1"}] done`, `[{"id":"T1"}]`},
		{"no json at all", "no structured data here", "no structured data here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		A int `json:"a"`
	}
	if err := Decode("```json\n{\"a\": 7}\n```", &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.A != 7 {
		t.Fatalf("a=%d", out.A)
	}
}

func TestDecodeMalformed(t *testing.T) {
	var out map[string]any
	err := Decode("the model refused to answer", &out)
	if !pipeerr.HasCode(err, pipeerr.ESchemaParse) {
		t.Fatalf("want schema parse code, got %v", err)
	}
}

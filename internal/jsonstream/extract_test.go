package jsonstream

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		objects []string
		noise   string
		partial string
	}{
		{
			name:  "empty input",
			input: "",
		},
		{
			name:  "noise only",
			input: "warming up...\r\n",
			noise: "warming up...\r\n",
		},
		{
			name:    "single object",
			input:   `{"jsonrpc":"2.0","id":"1","result":{}}`,
			objects: []string{`{"jsonrpc":"2.0","id":"1","result":{}}`},
		},
		{
			name:    "objects interleaved with noise",
			input:   `noise1{"a":1}noise2{"b":2}`,
			objects: []string{`{"a":1}`, `{"b":2}`},
			noise:   "noise1noise2",
		},
		{
			name:    "nested objects count depth",
			input:   `{"a":{"b":{"c":1}}}`,
			objects: []string{`{"a":{"b":{"c":1}}}`},
		},
		{
			name:    "braces inside strings are inert",
			input:   `{"msg":"use {braces} freely"}`,
			objects: []string{`{"msg":"use {braces} freely"}`},
		},
		{
			name:    "escaped quote does not close string",
			input:   `{"msg":"she said \"}\" loudly"}`,
			objects: []string{`{"msg":"she said \"}\" loudly"}`},
		},
		{
			name:    "trailing partial object",
			input:   `{"done":true}{"method":"item/agentMes`,
			objects: []string{`{"done":true}`},
			partial: `{"method":"item/agentMes`,
		},
		{
			name:    "partial cut inside string",
			input:   `{"text":"hello wo`,
			partial: `{"text":"hello wo`,
		},
		{
			name:    "partial cut after escape",
			input:   `{"text":"a\`,
			partial: `{"text":"a\`,
		},
		{
			name:    "noise before partial is preserved",
			input:   "booting\n{\"a\":",
			noise:   "booting\n",
			partial: `{"a":`,
		},
		{
			name:    "stray close brace is noise",
			input:   `}{"a":1}`,
			objects: []string{`{"a":1}`},
			noise:   "}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)

			if !reflect.DeepEqual(got.Objects, tt.objects) {
				t.Errorf("Objects = %#v, want %#v", got.Objects, tt.objects)
			}

			if got.Noise != tt.noise {
				t.Errorf("Noise = %q, want %q", got.Noise, tt.noise)
			}

			if got.Partial != tt.partial {
				t.Errorf("Partial = %q, want %q", got.Partial, tt.partial)
			}
		})
	}
}

func TestExtractReassemblesAcrossChunks(t *testing.T) {
	full := `{"method":"item/completed","params":{"item":{"id":"item_1","text":"` + strings.Repeat("x", 64) + `"}}}`

	first := Extract(full[:40])
	if len(first.Objects) != 0 {
		t.Fatalf("unexpected complete objects in first chunk: %v", first.Objects)
	}
	if first.Partial == "" {
		t.Fatal("expected partial from first chunk")
	}

	second := Extract(first.Partial + full[40:])
	if len(second.Objects) != 1 || second.Objects[0] != full {
		t.Fatalf("reassembly failed: %#v", second.Objects)
	}
	if second.Partial != "" {
		t.Fatalf("unexpected partial after reassembly: %q", second.Partial)
	}
}

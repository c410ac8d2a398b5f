package formatter

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

func TestFormatForPlatform_Bold(t *testing.T) {
	tests := []struct {
		platform bus.Platform
		want     string
	}{
		{bus.PlatformTelegram, "<b>bold</b>"},
		{bus.PlatformSlack, "*bold*"},
		{bus.PlatformDiscord, "**bold**"},
		{bus.PlatformUnknown, "bold"},
	}
	for _, tt := range tests {
		t.Run(tt.platform.String(), func(t *testing.T) {
			if got := FormatForPlatform("**bold**", tt.platform); got != tt.want {
				t.Errorf("FormatForPlatform(**bold**, %s) = %q, want %q", tt.platform, got, tt.want)
			}
		})
	}
}

func TestFormatTelegram(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"escapes plain text", "3 < 5 && 5 > 2", "3 &lt; 5 &amp;&amp; 5 &gt; 2"},
		{"inline code escaped once", "run `a < b && c`", "run <code>a &lt; b &amp;&amp; c</code>"},
		{"fenced code with language", "```go\nx := 1 < 2\n```", "<pre><code class=\"language-go\">x := 1 &lt; 2</code></pre>"},
		{"fenced code without language", "```\nplain\n```", "<pre><code>plain</code></pre>"},
		{"italic star", "an *important* word", "an <i>important</i> word"},
		{"italic underscore", "an _important_ word", "an <i>important</i> word"},
		{"adjacent italics", "*a* *b*", "<i>a</i> <i>b</i>"},
		{"snake case untouched", "call my_func_name now", "call my_func_name now"},
		{"strike", "~~gone~~", "<s>gone</s>"},
		{"heading", "# Title", "<b>Title</b>"},
		{"link", "[docs](https://x.io/a_b?q=1&r=2)", `<a href="https://x.io/a_b?q=1&amp;r=2">docs</a>`},
		{"code not formatted", "`**not bold**`", "<code>**not bold**</code>"},
		{"bullet list untouched", "* one\n* two", "* one\n* two"},
		{"bold italic", "***bold italic***", "<b><i>bold italic</i></b>"},
		{"bold italic underscore", "___both___", "<b><i>both</i></b>"},
		{"italic inside bold", "**bold _x_**", "<b>bold <i>x</i></b>"},
		{"overlapping emphasis stays nested", "**bold _x**_", "<b>bold _x</b>_"},
		{"overlapping strike and italic", "~~a _b~~_", "<s>a _b</s>_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTelegram(tt.in); got != tt.want {
				t.Errorf("FormatTelegram(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatSlack(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"double star bold", "**bold**", "*bold*"},
		{"double underscore bold", "__bold__", "*bold*"},
		{"strike", "~~gone~~", "~gone~"},
		{"link", "[site](https://example.com)", "<https://example.com|site>"},
		{"heading", "## Section **one**", "*Section one*"},
		{"italic", "an *emph* word", "an _emph_ word"},
		{"code protected", "`**raw**` and **bold**", "`**raw**` and *bold*"},
		{"fence drops language", "```py\nprint(1)\n```", "```print(1)\n```"},
		{"escapes control chars", "a < b & c", "a &lt; b &amp; c"},
		{"bold italic", "***bold italic***", "*_bold italic_*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSlack(tt.in); got != tt.want {
				t.Errorf("FormatSlack(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatDiscord(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"passthrough", "**bold** _it_ ~~s~~", "**bold** _it_ ~~s~~"},
		{"strips html", "hello <b>world</b><br/>", "hello world"},
		{"keeps comparisons", "3 < 5 > 2", "3 < 5 > 2"},
		{"keeps html in code", "`<div>` and\n```\n<span>x</span>\n```", "`<div>` and\n```\n<span>x</span>\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDiscord(tt.in); got != tt.want {
				t.Errorf("FormatDiscord(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	in := "# Title\n\nSome **bold** and [a link](https://x.io).\n\n- one\n- two"
	got := PlainText(in)
	for _, want := range []string{"Title", "Some bold and a link (https://x.io).", "- one", "- two"} {
		if !strings.Contains(got, want) {
			t.Errorf("PlainText output %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "**") {
		t.Errorf("PlainText output %q still has emphasis markers", got)
	}
}

func TestProtector_MarkerAbsentFromInput(t *testing.T) {
	in := "has \x01 and \x02 inside"
	p, text := newProtector(in)
	if strings.IndexByte(text, p.marker) >= 0 {
		t.Fatalf("marker %#x occurs in input", p.marker)
	}
	if p.marker != 0x03 {
		t.Errorf("marker = %#x, want 0x03", p.marker)
	}

	tok := p.protect("SPAN")
	if got := p.restore("x" + tok + "y"); got != "xSPANy" {
		t.Errorf("restore = %q, want xSPANy", got)
	}
}

func TestProtector_AllMarkersPresent(t *testing.T) {
	in := "text" + string(markerCandidates)
	p, text := newProtector(in)
	if p.marker != markerCandidates[0] {
		t.Errorf("marker = %#x, want %#x", p.marker, markerCandidates[0])
	}
	if strings.IndexByte(text, p.marker) >= 0 {
		t.Error("fallback marker still present in cleaned input")
	}
}

func TestProtector_RestoreNestedReverseOrder(t *testing.T) {
	p, _ := newProtector("")
	inner := p.protect("<code>x</code>")
	outer := p.protect("[" + inner + "]")
	if got := p.restore(outer); got != "[<code>x</code>]" {
		t.Errorf("restore = %q", got)
	}
}

func TestFormatTelegram_InputWithControlBytes(t *testing.T) {
	in := "keep \x01 byte and `code`"
	got := FormatTelegram(in)
	if !strings.Contains(got, "<code>code</code>") {
		t.Errorf("FormatTelegram(%q) = %q, code not rendered", in, got)
	}
	if !strings.Contains(got, "\x01") {
		t.Errorf("FormatTelegram(%q) = %q, dropped user control byte", in, got)
	}
}

package textnorm

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "What is 2+2?", "What is 2+2?"},
		{"tags", "<p>What is <b>2+2</b>?</p>", " What is 2+2?"},
		{"entities", "a &amp; b &lt; c", "a & b < c"},
		{"break", "line1<br/>line2", "line1 line2"},
		{"comment", "x<!-- hidden -->y", "xy"},
		{"unterminated", "<p>dangling", " dangling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "What is 2+2?", PlainText("<p>  What   is\n<b>2+2</b>?</p>"))
	assert.Equal(t, "", PlainText("<br><br>"))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii", "What is 2+2?", "whatis2+2?"},
		{"fullwidth question mark", "下列说法正确的是？", "下列说法正确的是?"},
		{"cjk punctuation", "甲，乙。丙：丁！", "甲,乙.丙:丁!"},
		{"ideographic space", "安全　生产", "安全生产"},
		{"fullwidth letters", "ＡＢｃ１", "abc1"},
		{"markup", "<span style=\"x\">Hello</span>&nbsp;World", "helloworld"},
		{"literal angle bracket", "2 &lt; 3", "2&lt;3"},
		{"zero width", "a\u200bb", "ab"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

var awkwardInputs = []string{
	"",
	"What is 2+2?",
	"<p>What is <b>2+2</b>?</p>",
	"&lt;b&gt;not a tag&lt;/b&gt;",
	"＜p＞full width tag＜/p＞",
	"AT&T &amp;lt; done",
	"《安全生产法》规定，生产经营单位？",
	"a < b > c",
	"<<a>b>",
	"tab\tnew\nline\r\n",
	"Ｑｕｅｓｔｉｏｎ　１：",
	"&amp;amp;",
	"<script>x<y</script>",
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, in := range awkwardInputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func FuzzNormalize(f *testing.F) {
	for _, in := range awkwardInputs {
		f.Add(in)
	}
	f.Add("\xff\xfe<p")
	f.Add("&#65;&#x3c;&lt;")
	f.Add("＆ｌｔ；")

	f.Fuzz(func(t *testing.T, s string) {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q then %q", s, once, twice)
		}
		if strings.IndexFunc(once, unicode.IsSpace) >= 0 {
			t.Fatalf("Normalize(%q) = %q keeps whitespace", s, once)
		}
	})
}

func TestFoldRune(t *testing.T) {
	assert.Equal(t, '?', FoldRune('？'))
	assert.Equal(t, '.', FoldRune('。'))
	assert.Equal(t, ',', FoldRune('，'))
	assert.Equal(t, 'a', FoldRune('A'))
	assert.Equal(t, 'a', FoldRune('Ａ'))
	assert.Equal(t, '中', FoldRune('中'))
}

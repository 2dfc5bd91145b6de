// Package textnorm turns exam question and option markup into comparable text.
//
// Both the answer bank and the live exam service deliver question stems as HTML
// fragments with inconsistent spacing and a mix of full-width and ASCII
// punctuation. Normalize folds all of that away so two renderings of the same
// question compare equal.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// punctFold maps CJK punctuation outside the full-width ASCII block to ASCII.
var punctFold = map[rune]rune{
	'。': '.',
	'、': ',',
	'｡': '.',
	'､': ',',
	'“': '"',
	'”': '"',
	'‘': '\'',
	'’': '\'',
	'【': '[',
	'】': ']',
	'〔': '[',
	'〕': ']',
	'…': '.',
}

// escaper keeps markup-significant characters from being re-read as tags when
// normalized text is normalized again.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;")

// StripHTML returns the text content of an HTML fragment with entities decoded.
// Tags, comments and doctype tokens are dropped.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way keep the text recovered so far.
			return sb.String()
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			// Block-level tags separate words in the rendered page.
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr", "td":
				sb.WriteByte(' ')
			}
		}
	}
}

// PlainText strips markup and collapses whitespace runs into single spaces.
func PlainText(s string) string {
	return strings.Join(strings.Fields(StripHTML(s)), " ")
}

// FoldRune maps one full-width or CJK punctuation rune to its ASCII equivalent
// and lowercases ASCII letters. Other runes are returned unchanged.
func FoldRune(r rune) rune {
	if r >= 0xFF01 && r <= 0xFF5E {
		r -= 0xFEE0
	} else if m, ok := punctFold[r]; ok {
		r = m
	}
	if r >= 'A' && r <= 'Z' {
		r += 'a' - 'A'
	}
	return r
}

// Normalize strips markup, removes every whitespace rune, folds full-width
// punctuation to ASCII and lowercases ASCII letters.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	text := StripHTML(s)
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if unicode.IsSpace(r) || r == '\u200b' || r == '\ufeff' {
			continue
		}
		sb.WriteRune(FoldRune(r))
	}
	return escaper.Replace(sb.String())
}

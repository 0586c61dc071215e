// Package normalize repairs artifacts left in sentences by the host's text
// pipeline and decides whether a sentence should be spoken as SSML.
package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Request is a sentence ready to be handed to the synthesis engine.
type Request struct {
	Text string
	SSML bool
}

var (
	// "eight a.m.next sentence" comes out of the host's sentence splitter.
	meridiemRe = regexp.MustCompile(` ([ap])\.m\.(\S|$)`)

	// "A I" -> "A.I. "
	initialismRe = regexp.MustCompile(`\b([A-Z](?: |$)){2,}`)

	// 'A' -> spelled out
	quotedLetterRe = regexp.MustCompile(`'([A-Z])'`)
)

const spellOutTemplate = `<say-as interpret-as="spell-out">$1</say-as>`

// SpellOut wraps text in an SSML directive that speaks it letter by letter.
func SpellOut(text string) string {
	return `<say-as interpret-as="spell-out">` + text + `</say-as>`
}

// Apply runs the text fixes in order and classifies the result. It never
// fails; unknown input passes through unchanged.
func Apply(sentence string) Request {
	sentence = meridiemRe.ReplaceAllString(sentence, " $1.m. $2")

	// A single trailing newline still counts as the end of the sentence.
	body, newline := strings.CutSuffix(sentence, "\n")
	body = initialismRe.ReplaceAllStringFunc(body, func(m string) string {
		return strings.ReplaceAll(strings.TrimSpace(m), " ", ".") + ". "
	})
	sentence = body
	if newline {
		sentence += "\n"
	}

	ssml := strings.HasPrefix(strings.TrimSpace(sentence), "<")

	// The host sends single letters as "A;".
	if utf8.RuneCountInString(sentence) == 2 && strings.HasSuffix(sentence, ";") {
		letter, _ := utf8.DecodeRuneInString(sentence)
		return Request{Text: SpellOut(string(letter)), SSML: true}
	}

	if quotedLetterRe.MatchString(sentence) {
		sentence = quotedLetterRe.ReplaceAllString(sentence, spellOutTemplate)
		ssml = true
	}

	return Request{Text: sentence, SSML: ssml}
}

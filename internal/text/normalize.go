// Package text prepares user-supplied text for the speech engine.
//
// Normalisation is optional and conservative: it expands a few abbreviations,
// spells out plain integers, replaces typographic punctuation with plain ASCII,
// collapses whitespace and repeated punctuation, and makes sure the utterance
// ends like a sentence. URLs and e-mail addresses are left untouched.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxSpelledNumber is the largest integer spelled out as words.
const MaxSpelledNumber = 999999

const (
	urlPattern        = `https?://\S+`
	emailPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberPattern     = `\b\d+(?:[.,:]\d+)*\b`
	whitespacePattern = `\s+`
	repeatedPattern   = `([!?,;:])[!?,;:]+`
	longDotsPattern   = `\.{4,}`
	ellipsis          = "..."
)

var (
	smallNumbers = [...]string{
		"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
		"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
		"seventeen", "eighteen", "nineteen",
	}
	tensWords = [...]string{
		"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
	}
)

// Normalizer holds the compiled patterns. It is safe for concurrent use.
type Normalizer struct {
	protected     *regexp.Regexp
	number        *regexp.Regexp
	whitespace    *regexp.Regexp
	repeated      *regexp.Regexp
	longDots      *regexp.Regexp
	abbreviations *strings.Replacer
	typography    *strings.Replacer
}

// NewNormalizer compiles the patterns used by Normalize.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		protected:  regexp.MustCompile(urlPattern + `|` + emailPattern),
		number:     regexp.MustCompile(numberPattern),
		whitespace: regexp.MustCompile(whitespacePattern),
		repeated:   regexp.MustCompile(repeatedPattern),
		longDots:   regexp.MustCompile(longDotsPattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Jr.", "Junior",
			"Sr.", "Senior",
			"e.g.", "for example",
			"i.e.", "that is",
			"etc.", "et cetera",
			"vs.", "versus",
		),
		typography: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", ellipsis,
			"“", `"`, "”", `"`, "„", `"`,
			"‘", "'", "’", "'",
			"\u00a0", " ",
		),
	}
}

// Normalize returns text rewritten for speech. Empty or blank input yields "".
func (n *Normalizer) Normalize(text string) string {
	text = n.typography.Replace(text)

	var builder strings.Builder

	last := 0
	for _, span := range n.protected.FindAllStringIndex(text, -1) {
		builder.WriteString(n.rewrite(text[last:span[0]]))
		builder.WriteString(text[span[0]:span[1]])

		last = span[1]
	}

	builder.WriteString(n.rewrite(text[last:]))

	out := n.whitespace.ReplaceAllString(builder.String(), " ")
	out = strings.TrimSpace(out)

	return terminate(out)
}

// rewrite applies the word-level rules to a span that holds no URL or address.
func (n *Normalizer) rewrite(span string) string {
	span = n.abbreviations.Replace(span)
	span = n.number.ReplaceAllStringFunc(span, spellNumber)
	span = n.longDots.ReplaceAllString(span, ellipsis)

	return n.repeated.ReplaceAllString(span, "$1")
}

// terminate appends a full stop unless the text already ends a sentence,
// possibly followed by a closing quote or bracket.
func terminate(text string) string {
	if text == "" {
		return ""
	}

	trimmed := strings.TrimRight(text, `"')]`)

	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?':
		return text
	case ',', ';', ':', '-':
		return strings.TrimRight(trimmed, ",;:- ") + text[len(trimmed):] + "."
	default:
		return text + "."
	}
}

// spellNumber spells plain integers and leaves decimals, times and grouped
// numbers as written.
func spellNumber(token string) string {
	value, err := strconv.Atoi(token)
	if err != nil || value > MaxSpelledNumber {
		return token
	}

	return SpellInteger(value)
}

// SpellInteger returns the English words for 0 <= n <= MaxSpelledNumber.
// Other values are returned as digits.
func SpellInteger(n int) string {
	switch {
	case n < 0 || n > MaxSpelledNumber:
		return strconv.Itoa(n)
	case n < len(smallNumbers):
		return smallNumbers[n]
	case n < 100:
		if n%10 == 0 {
			return tensWords[n/10]
		}

		return tensWords[n/10] + " " + smallNumbers[n%10]
	case n < 1000:
		return withRemainder(smallNumbers[n/100]+" hundred", n%100)
	default:
		return withRemainder(SpellInteger(n/1000)+" thousand", n%1000)
	}
}

func withRemainder(head string, rest int) string {
	if rest == 0 {
		return head
	}

	return head + " " + SpellInteger(rest)
}

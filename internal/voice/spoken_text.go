package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// maxSpokenChars keeps a reply under the speech endpoints' input limit.
const maxSpokenChars = 4000

var (
	spokenLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	spokenURLPattern  = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	spokenListMarker  = regexp.MustCompile(`^(?:[-*+•]|\d{1,2}[.)])\s+`)
)

// spokenSymbols rewrites what a caller should hear and blanks markup characters.
var spokenSymbols = strings.NewReplacer(
	"’", "'", "‘", "'", "«", "\"", "»", "\"",
	"&", " et ", "%", " pour cent", "€", " euros",
	"`", "", "*", " ", "_", " ", "#", " ", "~", " ",
	"|", " ", "\\", " ", "/", " ", "<", " ", ">", " ",
)

// spokenText turns a chat reply into text for a phone voice. Each markdown line (heading, list
// item, paragraph) becomes its own sentence so the voice pauses between them. Code blocks and
// links are not read out.
func spokenText(reply string) string {
	var lines []string
	inCode := false
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.TrimLeft(line, "#> ")
		line = spokenListMarker.ReplaceAllString(line, "")
		if line = spokenLine(line); line != "" {
			lines = append(lines, line)
		}
	}
	for i := 0; i < len(lines)-1; i++ {
		if !endsSentence(lines[i]) {
			lines[i] += "."
		}
	}
	return truncateSpoken(strings.Join(lines, " "), maxSpokenChars)
}

func spokenLine(line string) string {
	line = spokenLinkPattern.ReplaceAllString(line, "$1")
	line = spokenURLPattern.ReplaceAllString(line, " ")
	line = spokenSymbols.Replace(line)

	var b strings.Builder
	b.Grow(len(line))
	pendingSpace := false
	for _, r := range line {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r), r == '\u200d', r == '\ufe0f', r == '\u20e3':
			continue
		case unicode.In(r, unicode.So, unicode.Sk, unicode.Sm):
			// emoji and math glyphs
			continue
		}
		if pendingSpace && !strings.ContainsRune(".,)", r) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func endsSentence(s string) bool {
	return strings.ContainsAny(s[len(s)-1:], ".!?:;")
}

// truncateSpoken cuts s to at most limit runes, preferring the last full sentence.
func truncateSpoken(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		return cut[:i]
	}
	return cut
}

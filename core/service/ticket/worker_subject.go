package ticket

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// replyPrefix matches one reply/forward marker at the head of a subject,
// including numbered forms (Re[2]:, Re(3):) and full-width colons.
var replyPrefix = regexp.MustCompile(`(?i)^(re|fwd|fw|aw|wg|sv|vs|antw|réf|ref|tr|rv|enc|odp|回复|回覆|答复|转发|轉寄|ответ|пересл)\s*(\[\d+\]|\(\d+\))?\s*[:：]\s*`)

// bracketTag matches a leading [EXTERNAL] / [#123] style tag.
var bracketTag = regexp.MustCompile(`^\[[^\]]*\]\s*`)

// NormalizeSubject strips reply/forward prefixes and leading bracket tags
// until none is left, then collapses whitespace and lowercases. The result
// is stable: NormalizeSubject(NormalizeSubject(s)) == NormalizeSubject(s).
func NormalizeSubject(s string) string {
	s = collapseSpace(s)
	for {
		t := replyPrefix.ReplaceAllString(s, "")
		t = bracketTag.ReplaceAllString(t, "")
		t = collapseSpace(t)
		if t == s {
			break
		}
		s = t
	}
	return strings.ToLower(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const maxSubjectPrefix = 120

// subjectPrefix is the display subject stored on a new ticket.
func subjectPrefix(subject string) string {
	s := collapseSpace(subject)
	if utf8.RuneCountInString(s) <= maxSubjectPrefix {
		return s
	}
	r := []rune(s)
	return string(r[:maxSubjectPrefix])
}

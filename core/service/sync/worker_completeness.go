package mailsync

import (
	"strings"

	"mail_worker/core/domain"
)

// CompletenessPolicy decides whether a listing body is likely truncated and
// the full message should be fetched.
type CompletenessPolicy struct {
	MinBodyLength int      // text+HTML below this needs detail
	Ellipses      []string // trailing markers of a cut body
	MoreMarkers   []string // lowercase "show more" style markers
}

func DefaultCompletenessPolicy() CompletenessPolicy {
	return CompletenessPolicy{
		MinBodyLength: 1000,
		Ellipses:      []string{"...", "…"},
		MoreMarkers:   []string{"show more", "view more", "read more"},
	}
}

// NeedsDetail reports whether m looks incomplete.
func (p CompletenessPolicy) NeedsDetail(m *domain.MessageDTO) bool {
	if m.BodyLength() < p.MinBodyLength {
		return true
	}
	text := strings.TrimSpace(m.BodyText)
	for _, s := range p.Ellipses {
		if s != "" && strings.HasSuffix(text, s) {
			return true
		}
	}
	if len(p.MoreMarkers) > 0 {
		lower := strings.ToLower(m.BodyText + " " + m.BodyHTML)
		for _, marker := range p.MoreMarkers {
			if marker != "" && strings.Contains(lower, marker) {
				return true
			}
		}
	}
	// HTML 본문에 마크업이 없으면 요약본
	return !strings.Contains(m.BodyHTML, "<")
}

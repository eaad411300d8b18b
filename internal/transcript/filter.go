package transcript

import "strings"

// Stock phrases the batch transcription model fabricates from
// near-silent or music-only segments: video sign-offs and subtitle
// credits. Matched as case-sensitive substrings.
var defaultDenylist = []string{
	"ご視聴ありがとうございました",
	"ご清聴ありがとうございました",
	"チャンネル登録お願いします",
	"チャンネル登録よろしくお願いします",
	"最後までご視聴いただきありがとうございます",
}

// Filter decides whether a batch transcription result reaches the
// transcript sink. It applies only to the other channel; live
// recognition output is never filtered.
type Filter struct {
	phrases []string
}

// NewFilter builds a filter over the built-in denylist plus any extra
// configured phrases. Blank extras are ignored.
func NewFilter(extra ...string) *Filter {
	phrases := make([]string, 0, len(defaultDenylist)+len(extra))
	phrases = append(phrases, defaultDenylist...)
	for _, p := range extra {
		if strings.TrimSpace(p) == "" {
			continue
		}
		phrases = append(phrases, p)
	}
	return &Filter{phrases: phrases}
}

// Keep reports whether text should be emitted. The text is returned
// unchanged either way; a rejected result must yield no event at all.
func (f *Filter) Keep(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return text, false
	}
	for _, phrase := range f.phrases {
		if strings.Contains(text, phrase) {
			return text, false
		}
	}
	return text, true
}

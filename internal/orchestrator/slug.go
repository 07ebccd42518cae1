package orchestrator

import (
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugBase = 80

// Slugger makes URL-safe slugs with a millisecond suffix that never repeats
// within the process, so equal titles never collide.
type Slugger struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewSlugger() *Slugger {
	return &Slugger{now: time.Now}
}

// Next returns Fold(base) + "-" + a base36 stamp strictly greater than the previous one.
func (s *Slugger) Next(base string) string {
	s.mu.Lock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	s.mu.Unlock()
	return Fold(base) + "-" + strconv.FormatInt(ms, 36)
}

// Fold lowercases s, strips diacritics and joins the remaining letters and digits with single hyphens.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxSlugBase {
		out = strings.TrimRight(out[:maxSlugBase], "-")
	}
	if out == "" {
		return "presentation"
	}
	return out
}

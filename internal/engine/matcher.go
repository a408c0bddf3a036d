package engine

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/mailops/mailpurge/internal/audit"
)

// matcher compares fetched Message-ID header blocks against a target set.
// Matching tolerates header-name casing and optional angle brackets; the
// canonical (bracket-stripped) identifier is what gets recorded.
type matcher struct {
	byLower map[string]string
}

func newMatcher(ids []string) *matcher {
	m := &matcher{byLower: make(map[string]string, len(ids))}
	for _, id := range ids {
		canonical := audit.NormalizeMessageID(id)
		if canonical == "" {
			continue
		}
		m.byLower[strings.ToLower(canonical)] = canonical
	}
	return m
}

// Match reports whether the raw header block carries one of the target
// identifiers, returning the canonical identifier on a hit. A proper header
// parse is tried first; malformed blocks degrade to a byte scan so one odd
// header does not hide a match.
func (m *matcher) Match(header []byte) (string, bool) {
	if len(header) == 0 || len(m.byLower) == 0 {
		return "", false
	}

	if parsed, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(header))); err == nil {
		if value := parsed.Get("Message-Id"); value != "" {
			key := strings.ToLower(audit.NormalizeMessageID(value))
			if canonical, ok := m.byLower[key]; ok {
				return canonical, true
			}
			return "", false
		}
	}

	lower := bytes.ToLower(header)
	for key, canonical := range m.byLower {
		if bytes.Contains(lower, []byte(key)) {
			return canonical, true
		}
	}
	return "", false
}

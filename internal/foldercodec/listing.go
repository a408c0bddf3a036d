package foldercodec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Folder pairs a folder's wire-encoded name with its decoded display form.
type Folder struct {
	Wire    string
	Display string
}

// LineKind classifies one raw line of a LIST response.
type LineKind int

const (
	// LineSingle is a complete one-line entry: flags, delimiter, name.
	LineSingle LineKind = iota
	// LineLiteralHeader ends in a {N} byte-count marker; the name arrives on
	// the following line as a raw payload.
	LineLiteralHeader
	// LineLiteralPayload is the raw name bytes following a literal header.
	LineLiteralPayload
	// LineTerminator is the "LIST Completed" end marker.
	LineTerminator
)

var (
	listEntryRe     = regexp.MustCompile(`^\((?P<flags>[^)]*)\)\s+(?:"(?:[^"\\]|\\.)*"|NIL)\s+(?P<name>.+)$`)
	literalHeaderRe = regexp.MustCompile(`\{(?P<size>\d+)\}$`)
)

// ClassifyLine tags a raw listing line. awaitingPayload reports whether the
// previous line was a literal header, in which case this line is its payload
// no matter what it contains.
func ClassifyLine(line string, awaitingPayload bool) LineKind {
	if awaitingPayload {
		return LineLiteralPayload
	}
	trimmed := strings.TrimRight(line, "\r\n")
	if literalHeaderRe.MatchString(trimmed) {
		return LineLiteralHeader
	}
	if strings.Contains(strings.ToLower(trimmed), "list completed") {
		return LineTerminator
	}
	return LineSingle
}

// ParseListing consumes the raw lines of a LIST response and returns the
// selectable folders, one or two lines per folder depending on shape.
// \Noselect entries and the completion marker are skipped.
func ParseListing(lines []string) ([]Folder, error) {
	var folders []Folder

	var pendingFlags string
	var pendingSize int
	awaitingPayload := false

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")

		switch ClassifyLine(line, awaitingPayload) {
		case LineLiteralPayload:
			awaitingPayload = false
			name := line
			if pendingSize >= 0 && pendingSize <= len(name) {
				name = name[:pendingSize]
			}
			if !hasNoselect(pendingFlags) {
				folders = append(folders, Folder{Wire: name, Display: Decode(name)})
			}

		case LineLiteralHeader:
			m := literalHeaderRe.FindStringSubmatch(line)
			size, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("listing line %d: bad literal size %q", i+1, m[1])
			}
			pendingSize = size
			pendingFlags = extractFlags(line)
			awaitingPayload = true

		case LineTerminator:
			// end of listing

		case LineSingle:
			m := listEntryRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("listing line %d: unrecognized entry %q", i+1, line)
			}
			flags, name := m[1], m[2]
			if hasNoselect(flags) {
				continue
			}
			folders = append(folders, Folder{Wire: Unquote(name), Display: Decode(name)})
		}
	}

	if awaitingPayload {
		return nil, fmt.Errorf("listing ended while awaiting a %d-byte literal payload", pendingSize)
	}

	return folders, nil
}

func extractFlags(line string) string {
	start := strings.IndexByte(line, '(')
	end := strings.IndexByte(line, ')')
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}

func hasNoselect(flags string) bool {
	for _, f := range strings.Fields(flags) {
		if strings.EqualFold(f, `\Noselect`) {
			return true
		}
	}
	return false
}

package foldercodec

import (
	"encoding/base64"
	"strings"
	"unicode/utf16"
)

// Folder names travel on the wire in the mailbox protocol's modified UTF-7:
// printable ASCII stays literal, "&" introduces a base64 run of UTF-16BE text
// terminated by "-", and the base64 alphabet substitutes "," for "/". A bare
// "&-" is a literal ampersand.

var b64 = base64.StdEncoding

// Decode converts a wire folder name to its display form. A surrounding
// quoted-string wrapper, if present, is removed first. Malformed runs are
// passed through verbatim so one bad name cannot poison a whole listing.
func Decode(wire string) string {
	return decodeUTF7(Unquote(wire))
}

// Encode converts a display name to its quoted wire form, applying modified
// UTF-7 to every character outside the printable ASCII range.
func Encode(display string) string {
	return Quote(encodeUTF7(display))
}

// Unquote removes a surrounding double-quote wrapper and unescapes \" and \\.
// Names without the wrapper are returned unchanged.
func Unquote(name string) string {
	if len(name) < 2 || name[0] != '"' || name[len(name)-1] != '"' {
		return name
	}
	inner := name[1 : len(name)-1]
	var sb strings.Builder
	sb.Grow(len(inner))
	escaped := false
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if escaped {
			sb.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Quote wraps a wire name in double quotes, escaping backslash and quote.
func Quote(name string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '\\' || c == '"' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}

func decodeUTF7(wire string) string {
	var sb strings.Builder
	sb.Grow(len(wire))

	for i := 0; i < len(wire); {
		c := wire[i]
		if c != '&' {
			sb.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(wire[i+1:], '-')
		if end < 0 {
			// Unmatched "&": nothing left to decode, keep the tail as-is.
			sb.WriteString(wire[i:])
			break
		}
		run := wire[i+1 : i+1+end]
		i += end + 2

		if run == "" {
			sb.WriteByte('&')
			continue
		}

		decoded, ok := decodeRun(run)
		if !ok {
			sb.WriteByte('&')
			sb.WriteString(run)
			sb.WriteByte('-')
			continue
		}
		sb.WriteString(decoded)
	}

	return sb.String()
}

func decodeRun(run string) (string, bool) {
	padded := strings.ReplaceAll(run, ",", "/")
	if rem := len(padded) % 4; rem != 0 {
		padded += strings.Repeat("=", 4-rem)
	}
	raw, err := b64.DecodeString(padded)
	if err != nil || len(raw)%2 != 0 {
		return "", false
	}

	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return string(utf16.Decode(units)), true
}

func encodeUTF7(display string) string {
	var sb strings.Builder
	sb.Grow(len(display))

	var pending []rune
	flush := func() {
		if len(pending) == 0 {
			return
		}
		units := utf16.Encode(pending)
		raw := make([]byte, 0, len(units)*2)
		for _, u := range units {
			raw = append(raw, byte(u>>8), byte(u))
		}
		encoded := strings.TrimRight(b64.EncodeToString(raw), "=")
		encoded = strings.ReplaceAll(encoded, "/", ",")
		sb.WriteByte('&')
		sb.WriteString(encoded)
		sb.WriteByte('-')
		pending = pending[:0]
	}

	for _, r := range display {
		switch {
		case r == '&':
			flush()
			sb.WriteString("&-")
		case r >= 0x20 && r <= 0x7e:
			flush()
			sb.WriteRune(r)
		default:
			pending = append(pending, r)
		}
	}
	flush()

	return sb.String()
}

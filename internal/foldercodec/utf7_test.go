package foldercodec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeKnownFixtures(t *testing.T) {
	cases := []struct {
		wire string
		want string
	}{
		{"INBOX", "INBOX"},
		{"&BCEEPwQwBDw-", "Спам"},
		{"~peter/mail/&U,BTFw-/&ZeVnLIqe-", "~peter/mail/台北/日本語"},
		{"&-", "&"},
		{"Sales &- Marketing", "Sales & Marketing"},
		{`"Quoted Name"`, "Quoted Name"},
	}

	for _, tc := range cases {
		t.Run(tc.wire, func(t *testing.T) {
			assert.Equal(t, tc.want, Decode(tc.wire))
		})
	}
}

func TestDecodeMalformedRunsPassThrough(t *testing.T) {
	cases := []string{
		"&*bad-",      // invalid base64 characters
		"&B-",         // truncated UTF-16 unit
		"trailing &",  // unmatched ampersand
		"&&&",         // nothing decodable at all
	}

	for _, wire := range cases {
		t.Run(wire, func(t *testing.T) {
			assert.Equal(t, wire, Decode(wire), "malformed input must come back verbatim")
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	names := []string{
		"INBOX",
		"Отправленные",
		"Черновики",
		"Sent & Received",
		"Проекты/2024",
		"台北 & 日本語",
		`quotes " and \ slashes`,
		"&",
		"mixed Ascii и кириллица",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, name, Decode(Encode(name)))
		})
	}
}

func TestEncodeQuotesAndEscapes(t *testing.T) {
	assert.Equal(t, `"INBOX"`, Encode("INBOX"))
	assert.Equal(t, `"a\"b"`, Encode(`a"b`))
	assert.Equal(t, `"a\\b"`, Encode(`a\b`))
	assert.Equal(t, `"&-"`, Encode("&"))
}

func TestClassifyLine(t *testing.T) {
	cases := []struct {
		line     string
		awaiting bool
		want     LineKind
	}{
		{`(\HasNoChildren) "|" "INBOX"`, false, LineSingle},
		{`(\HasNoChildren) "|" {18}`, false, LineLiteralHeader},
		{`anything at all`, true, LineLiteralPayload},
		{`LIST Completed.`, false, LineTerminator},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case%d", i), func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyLine(tc.line, tc.awaiting))
		})
	}
}

func TestParseListingMixedShapes(t *testing.T) {
	literalName := Unquote(Encode("Осенние фото"))
	lines := []string{
		`(\HasNoChildren) "|" "INBOX"`,
		`(\HasNoChildren \Noselect) "|" "[Gmail]"`,
		fmt.Sprintf(`(\HasNoChildren) "|" {%d}`, len(literalName)),
		literalName,
		`(\HasNoChildren) "|" "&BCEEPwQwBDw-"`,
		`LIST Completed.`,
	}

	folders, err := ParseListing(lines)
	assert.NoError(t, err)
	assert.Len(t, folders, 3, "noselect and terminator entries must be skipped")
	assert.Equal(t, "INBOX", folders[0].Display)
	assert.Equal(t, "Осенние фото", folders[1].Display)
	assert.Equal(t, literalName, folders[1].Wire)
	assert.Equal(t, "Спам", folders[2].Display)
	assert.Equal(t, "&BCEEPwQwBDw-", folders[2].Wire)
}

func TestParseListingLiteralWithoutPayload(t *testing.T) {
	_, err := ParseListing([]string{`(\HasNoChildren) "|" {10}`})
	assert.Error(t, err)
}

func TestParseListingRejectsGarbage(t *testing.T) {
	_, err := ParseListing([]string{`not a list entry`})
	assert.Error(t, err)
}

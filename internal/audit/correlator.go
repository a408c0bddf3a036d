package audit

import (
	"context"
	"log/slog"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Mode selects how audit events are correlated into deletion targets.
type Mode int

const (
	// ModeSender groups events from one sender in a time window by
	// recipient login.
	ModeSender Mode = iota
	// ModeMessageID collects every mailbox that received one specific
	// message.
	ModeMessageID
)

func (m Mode) String() string {
	if m == ModeMessageID {
		return "message-id"
	}
	return "sender"
}

// Target is the immutable outcome of correlation: which mailboxes to visit
// and which message identifiers to hunt in each. It is fully materialized
// before any mail session opens.
type Target struct {
	Mode      Mode
	MessageID string // normalized, message-ID mode only
	Subject   string // first seen subject, message-ID mode only

	perMailbox map[string]map[string]struct{}
	eventCount int
	subjects   []string
}

const maxSampleSubjects = 5

// Mailboxes returns the affected logins in stable sorted order.
func (t *Target) Mailboxes() []string {
	logins := make([]string, 0, len(t.perMailbox))
	for login := range t.perMailbox {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

// IDsFor returns the target message identifiers for one mailbox, sorted.
func (t *Target) IDsFor(login string) []string {
	ids := make([]string, 0, len(t.perMailbox[login]))
	for id := range t.perMailbox[login] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EventCount reports how many audit events matched the filter.
func (t *Target) EventCount() int { return t.eventCount }

// SampleSubjects returns up to a handful of distinct matched subjects for
// the operator-facing scan summary.
func (t *Target) SampleSubjects() []string { return t.subjects }

func (t *Target) noteSubject(subject string) {
	subject = strings.TrimSpace(subject)
	if subject == "" || len(t.subjects) >= maxSampleSubjects {
		return
	}
	for _, seen := range t.subjects {
		if seen == subject {
			return
		}
	}
	t.subjects = append(t.subjects, subject)
}

// Empty reports whether correlation produced no work.
func (t *Target) Empty() bool { return len(t.perMailbox) == 0 }

func (t *Target) add(login, msgID string) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || msgID == "" {
		return
	}
	if t.perMailbox == nil {
		t.perMailbox = map[string]map[string]struct{}{}
	}
	if t.perMailbox[login] == nil {
		t.perMailbox[login] = map[string]struct{}{}
	}
	t.perMailbox[login][msgID] = struct{}{}
}

// SenderFilter matches events whose From header contains the sender address
// (case-insensitive) and whose UTC timestamp lies within [From, To], both
// ends inclusive.
type SenderFilter struct {
	Sender string
	From   time.Time
	To     time.Time
}

// MessageIDFilter matches events carrying one specific message identifier.
// SharedMailboxes are appended to the recipient set because shared mailboxes
// receive copies without appearing in any address header.
type MessageIDFilter struct {
	MessageID       string
	After           time.Time
	Before          time.Time
	SharedMailboxes []string
}

// Correlator turns paged audit events into a Target.
type Correlator struct {
	Client *Client
	Log    *slog.Logger
}

// FetchBySender builds a sender-mode target: per-recipient sets of message
// identifiers for all events from the sender inside the window.
func (c *Correlator) FetchBySender(ctx context.Context, filter SenderFilter) (*Target, error) {
	target := &Target{Mode: ModeSender}
	sender := strings.ToLower(strings.TrimSpace(filter.Sender))

	err := c.eachEvent(ctx, filter.From, filter.To, func(ev Event) {
		if !strings.Contains(strings.ToLower(ev.From), sender) {
			return
		}
		ts := ev.OccurredAt
		if ts.Before(filter.From) || ts.After(filter.To) {
			return
		}
		target.eventCount++
		target.noteSubject(ev.Subject)
		target.add(ev.UserLogin, NormalizeMessageID(ev.MsgID))
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// FetchByMessageID builds a message-ID-mode target: the set of mailboxes
// that hold a copy of one message, derived from the event recipient and
// every address in From/To/Cc/Bcc, plus the configured shared mailboxes.
func (c *Correlator) FetchByMessageID(ctx context.Context, filter MessageIDFilter) (*Target, error) {
	wanted := NormalizeMessageID(filter.MessageID)
	target := &Target{Mode: ModeMessageID, MessageID: wanted}

	err := c.eachEvent(ctx, filter.After, filter.Before, func(ev Event) {
		if NormalizeMessageID(ev.MsgID) != wanted {
			return
		}
		target.eventCount++
		target.noteSubject(ev.Subject)
		if target.Subject == "" {
			target.Subject = ev.Subject
		}
		target.add(ev.UserLogin, wanted)
		for _, field := range []string{ev.From, ev.To, ev.Cc, ev.Bcc} {
			for _, addr := range extractAddresses(field) {
				target.add(addr, wanted)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if !target.Empty() {
		for _, shared := range filter.SharedMailboxes {
			target.add(shared, wanted)
		}
	}
	return target, nil
}

// eachEvent pages the audit log until the server returns an empty
// continuation token. A full page without a continuation token is logged as
// suspicious truncation: the source may be silently capping results, and the
// operator should review the count before trusting the target set.
func (c *Correlator) eachEvent(ctx context.Context, after, before time.Time, visit func(Event)) error {
	token := ""
	total := 0
	for {
		p, err := c.Client.fetchPage(ctx, after, before, token)
		if err != nil {
			return err
		}
		total += len(p.Events)
		for _, ev := range p.Events {
			visit(ev)
		}

		if p.NextPageToken == "" {
			if len(p.Events) == c.Client.PageSize {
				c.Log.Warn("audit page came back full but without a continuation token; results may be truncated",
					"page_size", c.Client.PageSize, "events_seen", total)
			}
			return nil
		}
		token = p.NextPageToken
	}
}

// NormalizeMessageID strips angle brackets and surrounding whitespace.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

var bareAddressRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+`)

// extractAddresses pulls email addresses out of a raw header-style address
// list. Proper lists parse via net/mail; anything malformed degrades to a
// bare-address scan so one odd header does not lose recipients.
func extractAddresses(list string) []string {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil
	}

	if parsed, err := mail.ParseAddressList(list); err == nil {
		out := make([]string, 0, len(parsed))
		for _, addr := range parsed {
			out = append(out, strings.ToLower(addr.Address))
		}
		return out
	}

	matches := bareAddressRe.FindAllString(list, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m))
	}
	return out
}

package cli

import (
	"fmt"
	"time"

	"github.com/mailops/mailpurge/internal/mailsession"
)

// Operator-facing dates and times are interpreted in the organization's
// fixed local offset and converted to UTC before anything touches the
// network.
var localZone = time.FixedZone("UTC+3", 3*60*60)

const dateLayout = "02-01-2006"
const clockLayout = "15:04:05"

func parseDate(value string) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, value, localZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, want DD-MM-YYYY: %w", value, err)
	}
	return day, nil
}

func parseClock(flag, value string) (time.Duration, error) {
	clock, err := time.Parse(clockLayout, value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q, want HH:MM:SS: %w", flag, value, err)
	}
	return time.Duration(clock.Hour())*time.Hour +
		time.Duration(clock.Minute())*time.Minute +
		time.Duration(clock.Second())*time.Second, nil
}

// senderWindow builds the inclusive UTC instant window for sender mode from
// one local date and two local clock times.
func senderWindow(date, timeFrom, timeTo string) (start, end time.Time, err error) {
	day, err := parseDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	fromClock, err := parseClock("time-from", timeFrom)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	toClock, err := parseClock("time-to", timeTo)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start = day.Add(fromClock).UTC()
	end = day.Add(toClock).UTC()
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--time-to %s precedes --time-from %s", timeTo, timeFrom)
	}
	return start, end, nil
}

// dayWindow builds the full-day UTC window for message-ID mode.
func dayWindow(date string) (start, end time.Time, err error) {
	day, err := parseDate(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return day.UTC(), day.AddDate(0, 0, 1).Add(-time.Second).UTC(), nil
}

// searchWindow widens an instant window to the day-granularity,
// end-exclusive range the UID search needs.
func searchWindow(start, end time.Time) mailsession.SearchWindow {
	return mailsession.SearchWindow{
		After:  dayOf(start),
		Before: dayOf(end).AddDate(0, 0, 1),
	}
}

func dayOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

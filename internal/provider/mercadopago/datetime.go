package mercadopago

import (
	"strings"
	"time"

	"github.com/hubx/pagamentos/internal/provider"
)

// Gateway callers hand us due dates and expirations in whatever shape their
// upstream produced: ISO-8601 with or without a colon in the offset, locale
// day-first strings, bare dates, and occasionally a timestamp with trailing
// metadata glued on after a semicolon. Everything funnels through here into a
// single canonical UTC string.

var dateOnlyLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05-0700",
	"02/01/2006 15:04:05 -07:00",
	"02/01/2006 15:04:05 -0700",
	"02/01/2006 15:04:05-07:00",
	"02/01/2006 15:04:05-0700",
	"02/01/2006T15:04:05-07:00",
	"02/01/2006T15:04:05-0700",
	"02-01-2006T15:04:05-07:00",
	"02-01-2006T15:04:05-0700",
}

// ParseDateTime parses a heterogeneous date/datetime string into UTC.
// Date-only inputs resolve to the end of that day (23:59:59 UTC). Datetime
// inputs must carry an explicit offset; "Z" and a trailing "UTC" count.
// Anything after a ";" is metadata and is dropped before parsing.
func ParseDateTime(value string) (time.Time, error) {
	clean := strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
	if clean == "" {
		return time.Time{}, provider.InvalidData("payment date is empty")
	}

	normalized := strings.ReplaceAll(clean, "Z", "+00:00")
	normalized = strings.ReplaceAll(normalized, "UTC", "+00:00")

	for _, layout := range dateOnlyLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC), nil
		}
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, provider.InvalidData("payment date %q is invalid or in an unrecognized format", value)
}

// FormatDateTime renders a time in the canonical shape the Mercado Pago API
// expects, UTC with a colon in the offset (e.g. 2025-12-18T00:50:13+00:00).
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05-07:00")
}

// NormalizeDateTime parses and reformats in one step
func NormalizeDateTime(value string) (string, error) {
	t, err := ParseDateTime(value)
	if err != nil {
		return "", err
	}
	return FormatDateTime(t), nil
}

// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/newsdigest/internal/store"
)

// errorSentinels are spreadsheet error values that may appear as plain text.
var errorSentinels = map[string]bool{
	"#N/A":    true,
	"#ERROR!": true,
	"#VALUE!": true,
	"#REF!":   true,
	"#DIV/0!": true,
	"#NUM!":   true,
	"#NAME?":  true,
	"#NULL!":  true,
}

// normalize turns error values, error sentinels and blank text into absent
// cells.
func normalize(c store.Cell) store.Cell {
	switch v := c.Value().(type) {
	case store.ErrorValue:
		return store.Cell{}
	case string:
		s := strings.TrimSpace(v)
		if s == "" || errorSentinels[strings.ToUpper(s)] {
			return store.Cell{}
		}
		return store.Text(s)
	}
	return c
}

// applyURLPrefix prepends prefix to rawURL unless rawURL already has a scheme.
func applyURLPrefix(rawURL, prefix string) string {
	if prefix == "" || rawURL == "" {
		return rawURL
	}
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		return rawURL
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(rawURL, "/")
}

var (
	hyphenDateRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ].*)?$`)
	})
	slashDateRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`^(\d{1,4})/(\d{1,2})/(\d{1,4})(?:[T ].*)?$`)
	})
	digitsRe = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`^\d+$`)
	})
)

// formatDate renders a creation date as YYYY/M/D in loc. ok is false when
// the cell holds nothing that looks like a date.
//
// Slash-delimited dates are ambiguous. A four-digit first segment is read
// year-first. Otherwise M/D/Y is assumed when the first segment is a valid
// month and the second a valid day, and D/M/Y in every other case.
func formatDate(c store.Cell, loc *time.Location) (string, bool) {
	t, ok := parseDate(c, loc)
	if !ok {
		return "", false
	}
	return ymd(t.Year(), int(t.Month()), t.Day()), true
}

func ymd(y, m, d int) string {
	return strconv.Itoa(y) + "/" + strconv.Itoa(m) + "/" + strconv.Itoa(d)
}

func parseDate(c store.Cell, loc *time.Location) (time.Time, bool) {
	switch v := normalize(c).Value().(type) {
	case time.Time:
		return v.In(loc), true
	case float64:
		return time.UnixMilli(int64(v)).In(loc), true
	case string:
		return parseDateString(v, loc)
	}
	return time.Time{}, false
}

func parseDateString(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}

	if digitsRe().MatchString(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).In(loc), true
	}

	if m := hyphenDateRe().FindStringSubmatch(s); m != nil {
		return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc)
	}

	if m := slashDateRe().FindStringSubmatch(s); m != nil {
		a, b, c := atoi(m[1]), atoi(m[2]), atoi(m[3])
		switch {
		case len(m[1]) == 4:
			return makeDate(a, b, c, loc)
		case a >= 1 && a <= 12 && b >= 1 && b <= 31:
			return makeDate(c, a, b, loc)
		default:
			return makeDate(c, b, a, loc)
		}
	}

	return time.Time{}, false
}

// makeDate validates the calendar date and returns it at midnight in loc.
func makeDate(y, m, d int, loc *time.Location) (time.Time, bool) {
	if y < 100 {
		y += 2000
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

package fanout

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var (
	rangePattern = regexp.MustCompile(
		`^([A-Za-z]+)\.?\s+(\d{1,2})(?:,\s*(\d{4}))?\s*-\s*(?:([A-Za-z]+)\.?\s+)?(\d{1,2}),\s*(\d{4})$`)
	singlePattern = regexp.MustCompile(`^([A-Za-z]+)\.?\s+(\d{1,2}),\s*(\d{4})$`)
	dashReplacer  = strings.NewReplacer("–", "-", "—", "-")
)

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// ParseDateRange normalizes event date text such as "May 28 - Jun 3, 2025" to ISO dates.
// Text it cannot read comes back unchanged as start with an empty end.
func ParseDateRange(raw string) (start, end string) {
	text := strings.Join(strings.Fields(dashReplacer.Replace(raw)), " ")
	if text == "" {
		return "", ""
	}

	if m := singlePattern.FindStringSubmatch(text); m != nil {
		day, ok := date(m[3], m[1], m[2])
		if !ok {
			return raw, ""
		}
		return day.Format(isoDate), day.Format(isoDate)
	}

	m := rangePattern.FindStringSubmatch(text)
	if m == nil {
		return raw, ""
	}
	startMonth, ok := month(m[1])
	if !ok {
		return raw, ""
	}
	endMonthName := m[4]
	if endMonthName == "" {
		endMonthName = m[1]
	}
	endMonth, ok := month(endMonthName)
	if !ok {
		return raw, ""
	}
	endYear, _ := strconv.Atoi(m[6])
	startYear := endYear
	switch {
	case m[3] != "":
		startYear, _ = strconv.Atoi(m[3])
	case startMonth > endMonth:
		startYear = endYear - 1
	}

	from, okFrom := date(strconv.Itoa(startYear), m[1], m[2])
	to, okTo := date(m[6], endMonthName, m[5])
	if !okFrom || !okTo || to.Before(from) {
		return raw, ""
	}
	return from.Format(isoDate), to.Format(isoDate)
}

func month(name string) (time.Month, bool) {
	name = strings.ToLower(name)
	if len(name) < 3 {
		return 0, false
	}
	for i, full := range monthNames {
		if strings.HasPrefix(full, name) {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}

// date builds a calendar day and rejects overflow such as Feb 30.
func date(year, monthName, day string) (time.Time, bool) {
	y, errY := strconv.Atoi(year)
	d, errD := strconv.Atoi(day)
	mo, ok := month(monthName)
	if errY != nil || errD != nil || !ok {
		return time.Time{}, false
	}
	t := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != mo {
		return time.Time{}, false
	}
	return t, true
}

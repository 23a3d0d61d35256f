// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package spice

import (
	"strings"
	"time"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// J2000 epoch, 2000-01-01T12:00:00 TT expressed in UTC
var j2000 = time.Date(2000, 1, 1, 11, 58, 55, 816000000, time.UTC)

// Dates at which TAI-UTC increased by one second, after the 10s offset of 1972
var leapSeconds = []time.Time{
	date(1972, 7), date(1973, 1), date(1974, 1), date(1975, 1), date(1976, 1), date(1977, 1),
	date(1978, 1), date(1979, 1), date(1980, 1), date(1981, 7), date(1982, 7), date(1983, 7),
	date(1985, 7), date(1988, 1), date(1990, 1), date(1991, 1), date(1992, 7), date(1993, 7),
	date(1994, 7), date(1996, 1), date(1997, 7), date(1999, 1), date(2006, 1), date(2009, 1),
	date(2012, 7), date(2015, 7), date(2017, 1),
}

func date(y int, m time.Month) time.Time { return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC) }

// TAI-UTC in seconds at the given UTC instant
func deltaAT(t time.Time) float64 {
	d := 10.0
	for _, ls := range leapSeconds {
		if !t.Before(ls) {
			d++
		}
	}
	return d
}

// Converts a UTC instant to ephemeris seconds past J2000. Periodic TDB-TT terms
// below two milliseconds are ignored
func UTCToET(t time.Time) float64 {
	t = t.UTC()
	dUTC := t.Sub(j2000).Seconds()
	return dUTC + deltaAT(t) - deltaAT(j2000)
}

// Converts ephemeris seconds past J2000 back to UTC
func ETToUTC(et float64) time.Time {
	guess := j2000.Add(time.Duration(et * float64(time.Second)))
	for i := 0; i < 2; i++ {
		off := deltaAT(guess) - deltaAT(j2000)
		guess = j2000.Add(time.Duration((et - off) * float64(time.Second)))
	}
	return guess
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-002T15:04:05.999999999",
	time.RFC3339Nano,
}

// Parses an ISIS style UTC time string, e.g. 2008-05-17T09:37:24.7300819
func ParseUTC(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errs.New(errs.Input, "unable to parse time '%s'", s)
}

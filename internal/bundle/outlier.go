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

package bundle

import (
	"math"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/report"
	"github.com/mlnoga/cnetbundle/internal/stats"
)

const outlierCause = "Outlier Rejection"

// Residual magnitude in pixels
func (l *layout) magnitude(o *observation) float64 {
	s, ln := o.pixels(l.cams[o.image].PixelPitch())
	return math.Hypot(s, ln)
}

// Flags measures whose residual magnitude exceeds median + multiplier * 1.4826 * MAD
// over all measures not currently rejected. Rejected measures below the limit
// come back. Per point at most the worst new outlier is rejected, and only
// while at least two measures remain. Returns the rejection limit and the
// number of changed flags
func (l *layout) rejectOutliers(net *cnet.Network, obs []*observation, multiplier float64, log *report.Log) (limit float64, changed int) {
	var mags []float64
	for _, o := range obs {
		if !o.m.Rejected {
			mags = append(mags, l.magnitude(o))
		}
	}
	if len(mags) == 0 {
		return 0, 0
	}
	limit = stats.RejectionLimit(mags, multiplier)

	for _, group := range l.byPoint(obs) {
		if len(group) == 0 {
			continue
		}
		id := net.At(group[0].pt.index).ID
		var worst *observation
		worstMag, rejected := 0.0, 0
		for _, o := range group {
			mag := l.magnitude(o)
			if mag <= limit {
				if o.m.Rejected {
					o.m.Rejected = false
					changed++
					log.Record(report.Entry{PointID: id, Serial: o.m.Serial, Cause: outlierCause,
						Before: "Rejected", After: "Valid"})
				}
				continue
			}
			if o.m.Rejected {
				rejected++
				continue
			}
			if mag > worstMag {
				worst, worstMag = o, mag
			}
		}
		if worst == nil || len(group)-(rejected+1) < 2 {
			continue
		}
		worst.m.Rejected = true
		changed++
		log.Record(report.Entry{PointID: id, Serial: worst.m.Serial, Cause: outlierCause,
			Before: "Valid", After: "Rejected " + report.FormatMetric(worstMag)})
	}
	return limit, changed
}

// Splits network ordered observations into one slice per layout point
func (l *layout) byPoint(obs []*observation) [][]*observation {
	groups := make([][]*observation, len(l.points))
	for _, o := range obs {
		k := l.pointOf[o.pt.index]
		groups[k] = append(groups[k], o)
	}
	return groups
}

package interpolate

import (
	"sort"

	"tradebalance/internal/model"
	"tradebalance/internal/period"
)

// UnitScale converts millions of the base currency to base units.
const UnitScale = 1_000_000

// QuarterPoint is one quarterly bilateral observation.
type QuarterPoint struct {
	Partner string
	Flow    string
	Period  string
	Value   model.Amount
}

// MonthPoint is one reconstructed monthly value in base units.
type MonthPoint struct {
	Partner string
	Flow    string
	Month   period.Month
	Value   float64
}

type SmoothResult struct {
	Points []MonthPoint
	// Preserved holds input points whose period could not be parsed.
	Preserved []QuarterPoint
	// Dropped counts points without a value.
	Dropped int
}

type seriesKey struct {
	partner string
	flow    string
}

// Smooth rebuilds a monthly series per (partner, flow) from quarterly
// totals. Each quarter is anchored at its first month; months between two
// anchors are interpolated linearly and months after the last anchor hold
// its value until the end of that quarter. Nothing is emitted before the
// first or after the last observed quarter of a series. Every value is
// divided by 3 and scaled by UnitScale. Duplicate points are summed.
func Smooth(points []QuarterPoint) SmoothResult {
	var result SmoothResult

	anchors := make(map[seriesKey]map[int]float64)
	for _, p := range points {
		q, ok := period.ParseQuarter(p.Period)
		if !ok {
			result.Preserved = append(result.Preserved, p)
			continue
		}
		if !p.Value.Valid {
			result.Dropped++
			continue
		}
		key := seriesKey{partner: p.Partner, flow: p.Flow}
		if anchors[key] == nil {
			anchors[key] = make(map[int]float64)
		}
		anchors[key][q.FirstMonth().Index()] += p.Value.Value
	}

	keys := make([]seriesKey, 0, len(anchors))
	for key := range anchors {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].partner != keys[j].partner {
			return keys[i].partner < keys[j].partner
		}
		return keys[i].flow < keys[j].flow
	})

	for _, key := range keys {
		for _, mv := range interpolateSeries(anchors[key]) {
			result.Points = append(result.Points, MonthPoint{
				Partner: key.partner,
				Flow:    key.flow,
				Month:   period.FromIndex(mv.index),
				Value:   mv.value / 3 * UnitScale,
			})
		}
	}
	return result
}

type monthValue struct {
	index int
	value float64
}

func interpolateSeries(anchors map[int]float64) []monthValue {
	indexes := make([]int, 0, len(anchors))
	for idx := range anchors {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var out []monthValue
	for i, start := range indexes {
		left := anchors[start]
		if i == len(indexes)-1 {
			for m := start; m < start+3; m++ {
				out = append(out, monthValue{index: m, value: left})
			}
			break
		}
		end := indexes[i+1]
		right := anchors[end]
		span := float64(end - start)
		for m := start; m < end; m++ {
			frac := float64(m-start) / span
			out = append(out, monthValue{index: m, value: left + (right-left)*frac})
		}
	}
	return out
}

package interpolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebalance/internal/model"
	"tradebalance/internal/period"
)

func qp(partner, flow, p string, v float64) QuarterPoint {
	return QuarterPoint{Partner: partner, Flow: flow, Period: p, Value: model.Some(v)}
}

func TestSmoothLinearBetweenQuarters(t *testing.T) {
	res := Smooth([]QuarterPoint{
		qp("FR", "CRE", "2023-Q1", 300),
		qp("FR", "CRE", "2023-Q2", 600),
	})
	require.Len(t, res.Points, 6)

	want := []float64{300, 400, 500, 600, 600, 600}
	for i, p := range res.Points {
		assert.Equal(t, period.NewMonth(2023, i+1), p.Month)
		assert.InDelta(t, want[i]/3*UnitScale, p.Value, 1e-6)
	}
}

func TestSmoothBounded(t *testing.T) {
	res := Smooth([]QuarterPoint{
		qp("US", "DEB", "2022-Q4", 90),
		qp("US", "DEB", "2023-Q1", 30),
		qp("US", "DEB", "2023-Q3", 120),
	})

	lo, hi := 30.0/3*UnitScale, 120.0/3*UnitScale
	for _, p := range res.Points {
		assert.GreaterOrEqual(t, p.Value, lo-1e-6)
		assert.LessOrEqual(t, p.Value, hi+1e-6)
	}
	// 2023-Q2 was not observed and is filled between its neighbours.
	var april MonthPoint
	for _, p := range res.Points {
		if p.Month == period.NewMonth(2023, 4) {
			april = p
		}
	}
	assert.InDelta(t, 75.0/3*UnitScale, april.Value, 1e-6)
}

func TestSmoothNoExtrapolation(t *testing.T) {
	res := Smooth([]QuarterPoint{
		qp("DE", "CRE", "2023-Q1", 30),
		qp("DE", "CRE", "2023-Q2", 60),
		qp("JP", "CRE", "2023-Q2", 9),
		qp("JP", "CRE", "2023-Q4", 9),
	})

	byPartner := map[string][]MonthPoint{}
	for _, p := range res.Points {
		byPartner[p.Partner] = append(byPartner[p.Partner], p)
	}
	de := byPartner["DE"]
	require.Len(t, de, 6)
	assert.Equal(t, period.NewMonth(2023, 6), de[len(de)-1].Month)

	jp := byPartner["JP"]
	require.Len(t, jp, 9)
	assert.Equal(t, period.NewMonth(2023, 4), jp[0].Month)
	assert.Equal(t, period.NewMonth(2023, 12), jp[len(jp)-1].Month)
}

func TestSmoothSumsDuplicatesAndKeepsUnparseable(t *testing.T) {
	res := Smooth([]QuarterPoint{
		qp("CN", "DEB", "2024-Q1", 3),
		qp("CN", "DEB", "2024-Q1", 3),
		qp("CN", "DEB", "bogus", 1),
		{Partner: "CN", Flow: "DEB", Period: "2024-Q2", Value: model.None()},
	})

	require.Len(t, res.Points, 3)
	assert.InDelta(t, 2.0*UnitScale, res.Points[0].Value, 1e-6)
	require.Len(t, res.Preserved, 1)
	assert.Equal(t, "bogus", res.Preserved[0].Period)
	assert.Equal(t, 1, res.Dropped)
}

func TestSmoothSeparatesFlows(t *testing.T) {
	res := Smooth([]QuarterPoint{
		qp("US", "CRE", "2024-Q1", 3),
		qp("US", "DEB", "2024-Q1", 6),
	})
	require.Len(t, res.Points, 6)
	assert.Equal(t, "CRE", res.Points[0].Flow)
	assert.InDelta(t, 1.0*UnitScale, res.Points[0].Value, 1e-6)
	assert.Equal(t, "DEB", res.Points[3].Flow)
	assert.InDelta(t, 2.0*UnitScale, res.Points[3].Value, 1e-6)
}

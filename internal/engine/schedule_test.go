package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentAtBoundaries(t *testing.T) {
	tests := []struct {
		months int
		want   float64
	}{
		{0, 5},
		{5, 5},
		{6, 10}, // a boundary age belongs to the older band
		{11, 10},
		{12, 18},
		{23, 18},
		{24, 25},
		{36, 30},
		{48, 35},
		{60, 40},
		{72, 45},
		{84, 50},
		{95, 50},
		{96, 60},
		{240, 60},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_months", tt.months), func(t *testing.T) {
			assert.Equal(t, tt.want, ResaleGrid.PercentAt(tt.months))
		})
	}
}

func TestPercentAtNegativeClampsToZero(t *testing.T) {
	assert.Equal(t, 5.0, ResaleGrid.PercentAt(-3))
}

func TestIDVGridsDiverge(t *testing.T) {
	// The grids agree until five years, then two-wheelers depreciate faster
	// through seven years and four-wheelers keep falling past ten.
	assert.Equal(t, IDVTwoWheelerGrid.PercentAt(59), IDVFourWheelerGrid.PercentAt(59))
	assert.Equal(t, 60.0, IDVTwoWheelerGrid.PercentAt(72))
	assert.Equal(t, 55.0, IDVFourWheelerGrid.PercentAt(72))
	assert.Equal(t, 65.0, IDVTwoWheelerGrid.PercentAt(84))
	assert.Equal(t, 65.0, IDVFourWheelerGrid.PercentAt(84))
	assert.Equal(t, 65.0, IDVTwoWheelerGrid.PercentAt(400))
	assert.Equal(t, 70.0, IDVFourWheelerGrid.PercentAt(120))
}

func TestSchedulesAreMonotonic(t *testing.T) {
	for name, grid := range map[string]Schedule{
		"resale": ResaleGrid,
		"idv_2w": IDVTwoWheelerGrid,
		"idv_4w": IDVFourWheelerGrid,
	} {
		t.Run(name, func(t *testing.T) {
			prev := grid.PercentAt(0)
			for months := 1; months <= 300; months++ {
				cur := grid.PercentAt(months)
				assert.GreaterOrEqual(t, cur, prev, "depreciation regressed at %d months", months)
				prev = cur
			}
		})
	}
}

func TestSchedulesPartitionWithoutGaps(t *testing.T) {
	for name, grid := range map[string]Schedule{
		"resale": ResaleGrid,
		"idv_2w": IDVTwoWheelerGrid,
		"idv_4w": IDVFourWheelerGrid,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 0, grid[0].LowerMonths)
			for i := 1; i < len(grid); i++ {
				assert.Equal(t, grid[i-1].UpperMonths, grid[i].LowerMonths)
			}
			assert.Equal(t, 0, grid[len(grid)-1].UpperMonths)
		})
	}
}

package engine

// Bucket is one band of a depreciation schedule. UpperMonths == 0 means the
// band is open-ended. Bands are half-open [Lower, Upper): an age exactly on
// a boundary belongs to the older band.
type Bucket struct {
	LowerMonths int
	UpperMonths int
	Percent     float64
}

// Schedule is an ordered, non-overlapping sequence of age bands fully
// partitioning [0, inf). Percent never decreases with age.
type Schedule []Bucket

// PercentAt resolves the depreciation percentage for an age in months via
// step lookup. No interpolation between bands.
func (s Schedule) PercentAt(months int) float64 {
	if months < 0 {
		months = 0
	}
	for _, b := range s {
		if months >= b.LowerMonths && (b.UpperMonths == 0 || months < b.UpperMonths) {
			return b.Percent
		}
	}
	return s[len(s)-1].Percent
}

// ResaleGrid is the resale-class depreciation schedule, 5% at under six
// months up to a 60% floor past eight years.
var ResaleGrid = Schedule{
	{0, 6, 5},
	{6, 12, 10},
	{12, 24, 18},
	{24, 36, 25},
	{36, 48, 30},
	{48, 60, 35},
	{60, 72, 40},
	{72, 84, 45},
	{84, 96, 50},
	{96, 0, 60},
}

// IDVTwoWheelerGrid is the insurance grid for scooters and motorcycles.
var IDVTwoWheelerGrid = Schedule{
	{0, 6, 5},
	{6, 12, 15},
	{12, 24, 20},
	{24, 36, 30},
	{36, 48, 40},
	{48, 60, 50},
	{60, 84, 60},
	{84, 0, 65},
}

// IDVFourWheelerGrid is the insurance grid for cars. Four-wheelers retain a
// slower rate in the 5-7 year band and carry two extra bands past 7 years.
var IDVFourWheelerGrid = Schedule{
	{0, 6, 5},
	{6, 12, 15},
	{12, 24, 20},
	{24, 36, 30},
	{36, 48, 40},
	{48, 60, 50},
	{60, 84, 55},
	{84, 120, 65},
	{120, 0, 70},
}

package gripper

// Positions holds the raw servo positions of the two end states.
type Positions struct {
	Open  int `json:"open"`
	Close int `json:"close"`
}

// Travel converts a raw servo position into percent of the way from open
// (0) to closed (100). Works for either direction of travel.
func (p Positions) Travel(raw int) float64 {
	rangeSize := float64(p.Close - p.Open)
	if rangeSize == 0 {
		return 0
	}
	return float64(raw-p.Open) / rangeSize * 100
}

// Raw converts a travel percentage back into a raw servo position.
func (p Positions) Raw(travel float64) int {
	rangeSize := float64(p.Close - p.Open)
	return int(travel/100*rangeSize) + p.Open
}

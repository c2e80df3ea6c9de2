package scoring

// Grade derives the letter grade for a play from its hit distribution
// and the beatmap's total object count. An unknown object count yields
// "?" because the proportions cannot be computed.
func Grade(c300, c100, c50, miss uint16, totalObjects int) string {
	if totalObjects <= 0 {
		return "?"
	}

	p300 := float64(c300) / float64(totalObjects) * 100
	p50 := float64(c50) / float64(totalObjects) * 100

	switch {
	case p300 == 100:
		return "SS"
	case p300 > 90 && p50 <= 1 && miss == 0:
		return "S"
	case p300 > 90 || (p300 > 80 && miss == 0):
		return "A"
	case p300 > 80 || (p300 > 70 && miss == 0):
		return "B"
	case p300 > 60:
		return "C"
	default:
		return "D"
	}
}

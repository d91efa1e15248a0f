package core

// AggregateRisk combines a set of scan matches into a single 0-100 risk
// score: min(count*15, 70) for volume plus average confidence * 30 for
// quality, clamped to 100. A single high-confidence match cannot max out
// the score on its own, but several corroborating signals can.
func AggregateRisk(matches []ScanMatch) float64 {
	if len(matches) == 0 {
		return 0
	}

	base := float64(len(matches)) * 15
	if base > 70 {
		base = 70
	}

	total := 0.0
	for _, m := range matches {
		total += m.Confidence
	}
	avg := total / float64(len(matches))

	score := base + avg*30
	if score > 100 {
		score = 100
	}
	return score
}

// attachmentRiskScore scores a single attachment's matches:
// min(count*20, 80) plus average confidence * 20, clamped to 100.
func attachmentRiskScore(matches []ScanMatch) float64 {
	if len(matches) == 0 {
		return 0
	}

	base := float64(len(matches)) * 20
	if base > 80 {
		base = 80
	}

	total := 0.0
	for _, m := range matches {
		total += m.Confidence
	}

	score := base + total/float64(len(matches))*20
	if score > 100 {
		score = 100
	}
	return score
}

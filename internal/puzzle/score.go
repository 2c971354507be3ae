package puzzle

import "math"

type Rating struct {
	Stars int    `json:"stars"`
	Label string `json:"label"`
}

var ratingBands = []struct {
	min    int
	rating Rating
}{
	{90, Rating{Stars: 3, Label: "Perfect"}},
	{70, Rating{Stars: 2, Label: "Great"}},
	{50, Rating{Stars: 1, Label: "Nice"}},
}

func Rate(percentage int) Rating {
	for _, band := range ratingBands {
		if percentage >= band.min {
			return band.rating
		}
	}
	return Rating{Stars: 0, Label: "Keep trying"}
}

type Summary struct {
	PointTotal int    `json:"pointTotal"`
	LockCount  int    `json:"lockCount"`
	Percentage int    `json:"percentage"`
	Rating     Rating `json:"rating"`
}

// Percentage is round(pointTotal / (lockCount*100) * 100).
func Percentage(pointTotal, lockCount int) int {
	if lockCount <= 0 {
		return 0
	}
	return int(math.Round(float64(pointTotal) / float64(lockCount*MaxLockScore) * 100))
}

func Summarize(pointTotal, lockCount int) Summary {
	pct := Percentage(pointTotal, lockCount)
	return Summary{PointTotal: pointTotal, LockCount: lockCount, Percentage: pct, Rating: Rate(pct)}
}

// AverageScore is the arithmetic mean of per-lock percentages, shown while a
// room is still being authored.
func AverageScore(percentages []int) float64 {
	if len(percentages) == 0 {
		return 0
	}
	sum := 0
	for _, p := range percentages {
		sum += p
	}
	return float64(sum) / float64(len(percentages))
}

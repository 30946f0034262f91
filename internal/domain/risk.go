package domain

import "time"

const (
	MaxRiskScore        = 100
	SuspiciousRiskScore = 70
)

// ComputeRiskScore is a deterministic, advisory heuristic. It never blocks a
// request on its own.
func ComputeRiskScore(createdAt, lastAccessedAt, now time.Time, fingerprint string) int {
	score := 0

	age := now.Sub(createdAt)
	switch {
	case age > 7*24*time.Hour:
		score += 20
	case age > 24*time.Hour:
		score += 10
	}

	idle := now.Sub(lastAccessedAt)
	switch {
	case idle > 24*time.Hour:
		score += 15
	case idle > 6*time.Hour:
		score += 5
	}

	if fingerprint == "" {
		score += 10
	}
	return min(score, MaxRiskScore)
}

func IsSuspicious(score int) bool {
	return score > SuspiciousRiskScore
}

package policy

// Risk thresholds on the accumulated score.
const (
	highRiskScore   = 7
	mediumRiskScore = 4
)

// ScoreRisk computes the risk level of running actionType under p. It is a
// pure function of the action type, the environment and the blast radius.
func ScoreRisk(actionType ActionType, p Policy) RiskLevel {
	score := RiskScore(actionType, p.Environment, p.BlastRadius)
	switch {
	case score >= highRiskScore:
		return RiskHigh
	case score >= mediumRiskScore:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskScore returns the raw accumulated score, clamped at zero.
func RiskScore(actionType ActionType, environment Environment, br BlastRadius) int {
	score := 0

	switch {
	case IsHighRisk(actionType):
		score += 3
	case IsMediumRisk(actionType):
		score += 2
	default:
		score++
	}

	switch environment {
	case EnvironmentProduction:
		score += 2
	case EnvironmentStaging:
		score++
	}

	switch {
	case br.MaxAffectedPages > 50:
		score += 3
	case br.MaxAffectedPages > 10:
		score += 2
	default:
		score++
	}

	if br.RollbackRequired {
		score--
	}

	if score < 0 {
		return 0
	}
	return score
}

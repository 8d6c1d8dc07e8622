package round

// MinRetention is the smallest number of rounds a metrics history keeps.
const MinRetention = 100

// Summary aggregates the loss of completed rounds across a history.
type Summary struct {
	TotalRounds     uint64   `json:"total_rounds"`
	CompletedRounds uint64   `json:"completed_rounds"`
	FailedRounds    uint64   `json:"failed_rounds"`
	AverageLoss     *float64 `json:"average_loss,omitempty"`
	MinLoss         *float64 `json:"min_loss,omitempty"`
	MaxLoss         *float64 `json:"max_loss,omitempty"`
	LatestRound     uint64   `json:"latest_round,omitempty"`
	LatestLoss      *float64 `json:"latest_loss,omitempty"`
}

// Summarize computes a Summary from rounds given in ascending order.
func Summarize(rounds []Round) Summary {
	var (
		s     Summary
		sum   float64
		count int
	)
	for _, r := range rounds {
		s.TotalRounds++
		switch r.Status {
		case Completed:
			s.CompletedRounds++
		case Failed:
			s.FailedRounds++

			continue
		default:
			continue
		}

		s.LatestRound = r.Number
		loss, ok := r.Loss()
		if !ok {
			s.LatestLoss = nil

			continue
		}
		s.LatestLoss = &loss
		sum += loss
		count++
		if s.MinLoss == nil || loss < *s.MinLoss {
			s.MinLoss = &loss
		}
		if s.MaxLoss == nil || loss > *s.MaxLoss {
			s.MaxLoss = &loss
		}
	}
	if count > 0 {
		avg := sum / float64(count)
		s.AverageLoss = &avg
	}

	return s
}

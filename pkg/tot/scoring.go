package tot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/grove/pkg/memory"
	"github.com/harun/grove/pkg/protocol"
)

// Categories are the scored aspects of a candidate, in comparison order.
var Categories = [...]string{"correctness", "elegance", "understandability", "overall"}

// Scores holds one value per category, in Categories order.
type Scores [len(Categories)]float64

// Less reports whether s ranks below o, comparing categories in order.
func (s Scores) Less(o Scores) bool {
	for i := range s {
		if s[i] != o[i] {
			return s[i] < o[i]
		}
	}
	return false
}

// Map returns the scores keyed by category.
func (s Scores) Map() map[string]float64 {
	out := make(map[string]float64, len(s))
	for i, category := range Categories {
		out[category] = s[i]
	}
	return out
}

// choosePlan returns the index with the greatest scores. Ties go to the
// lower index.
func choosePlan(scores []Scores) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[best].Less(scores[i]) {
			best = i
		}
	}
	return best
}

// quorum reports whether strictly more than half of the voters said yes.
func quorum(yes, voters int) bool {
	return float64(yes)/float64(voters) > 0.5
}

// reduceScores sums the step's votes per plan and divides by the number of
// voters.
func (e *Engine) reduceScores(ctx context.Context, voters []*memory.Stream, step, plans int) ([]Scores, error) {
	sums := make([]Scores, plans)
	stepTag := fmt.Sprintf("step_%d", step)

	for _, voter := range voters {
		for _, vote := range voter.VotesForStep(step) {
			if vote.PlanIdx < 0 || vote.PlanIdx >= plans {
				return nil, fmt.Errorf("%w: plan index %d out of range", ErrMalformedVote, vote.PlanIdx)
			}

			parsed, err := e.repairer.Decode(ctx, vote.Text)
			if err != nil {
				return nil, fmt.Errorf("decode vote of voter %d: %w", voter.VoterIdx(), err)
			}

			for i, category := range Categories {
				raw, ok := protocol.LookupString(parsed, stepTag, category, "score")
				if !ok {
					return nil, fmt.Errorf("%w: voter %d, plan %d: no %s score:\n%s", ErrMalformedVote, voter.VoterIdx(), vote.PlanIdx, category, vote.Text)
				}
				score, err := strconv.Atoi(strings.TrimSpace(raw))
				if err != nil {
					return nil, fmt.Errorf("%w: voter %d, plan %d: %s score %q:\n%s", ErrMalformedVote, voter.VoterIdx(), vote.PlanIdx, category, raw, vote.Text)
				}
				sums[vote.PlanIdx][i] += float64(score)
			}
		}
	}

	for p := range sums {
		for i := range sums[p] {
			sums[p][i] /= float64(len(voters))
		}
	}
	return sums, nil
}

// countYes counts the step's completion votes that answered yes.
func (e *Engine) countYes(ctx context.Context, voters []*memory.Stream, step int) (int, error) {
	yes := 0
	for _, voter := range voters {
		for _, vote := range voter.VotesForStep(step) {
			parsed, err := e.repairer.Decode(ctx, vote.Text)
			if err != nil {
				return 0, fmt.Errorf("decode verdict of voter %d: %w", voter.VoterIdx(), err)
			}

			verdict, ok := protocol.LookupString(parsed, "output", "complete")
			if !ok {
				return 0, fmt.Errorf("%w: voter %d: no verdict:\n%s", ErrMalformedVote, voter.VoterIdx(), vote.Text)
			}
			if strings.EqualFold(strings.TrimSpace(verdict), "yes") {
				yes++
			}
		}
	}
	return yes, nil
}

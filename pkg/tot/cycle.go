package tot

import (
	"strings"

	"github.com/harun/grove/pkg/memory"
	"github.com/harun/grove/pkg/sandbox"
)

// candidate is the plan and implementation of one plan stream at a step,
// with step tags removed.
type candidate struct {
	plan           string
	implementation string
}

// cycle is the state threaded through the handlers of one run.
type cycle struct {
	task string
	step int

	plans         []*memory.Stream
	planVoters    []*memory.Stream
	proposeVoters []*memory.Stream
	execVoters    []*memory.Stream

	scores     []Scores
	best       int
	candidates []candidate
	chosen     candidate

	language    string
	code        string
	outcome     sandbox.Outcome
	yesFraction float64
	execHistory strings.Builder
	selections  []Selection
}

func newCycle(task string, cfg Config) *cycle {
	c := &cycle{
		task:       task,
		step:       1,
		candidates: make([]candidate, cfg.Plans),
	}

	for p := 0; p < cfg.Plans; p++ {
		c.plans = append(c.plans, memory.NewStream(p, memory.NoIndex))
	}
	c.planVoters = newVoters(cfg.Voters)
	c.proposeVoters = newVoters(cfg.Voters)
	c.execVoters = newVoters(cfg.Voters)
	return c
}

func newVoters(n int) []*memory.Stream {
	voters := make([]*memory.Stream, n)
	for v := range voters {
		voters[v] = memory.NewStream(memory.NoIndex, v)
	}
	return voters
}

// winner returns the plan stream chosen by the last selection.
func (c *cycle) winner() *memory.Stream {
	return c.plans[c.best]
}

// copyFromBest overwrites every other plan stream's history with the
// winner's.
func (c *cycle) copyFromBest() {
	best := c.winner()
	for i, p := range c.plans {
		if i != c.best {
			p.CopyHistoryFrom(best)
		}
	}
}

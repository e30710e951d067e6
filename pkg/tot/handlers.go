package tot

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/grove/internal/observability"
	"github.com/harun/grove/internal/tracing"
	"github.com/harun/grove/pkg/memory"
	"github.com/harun/grove/pkg/protocol"
)

func (e *Engine) handlePlan(ctx context.Context, c *cycle) (string, error) {
	for _, p := range c.plans {
		if err := e.plan(ctx, c, "Plan", p, nil); err != nil {
			return "", err
		}
	}
	return "PlanVote", nil
}

func (e *Engine) handlePlanVote(ctx context.Context, c *cycle) (string, error) {
	start, stop := protocol.StepTags(c.step)
	system := map[string]any{"exec_history": c.execHistory.String()}

	for _, p := range c.plans {
		last, ok := p.Message(-1)
		if !ok {
			return "", fmt.Errorf("plan %d has no step to vote on", p.PlanIdx())
		}
		user := map[string]any{"step_plan": last.Content}

		for _, voter := range c.planVoters {
			if err := e.vote(ctx, c, "PlanVote", start, stop, p, voter, system, user); err != nil {
				return "", err
			}
		}
	}
	return "SumPlanVotes", nil
}

func (e *Engine) handleSumPlanVotes(ctx context.Context, c *cycle) (string, error) {
	scores, err := e.reduceScores(ctx, c.planVoters, c.step, len(c.plans))
	if err != nil {
		return "", err
	}
	c.scores = scores
	return "ChoosePlan", nil
}

func (e *Engine) handleChoosePlan(ctx context.Context, c *cycle) (string, error) {
	e.choose(ctx, c, "plan")
	return "Propose", nil
}

func (e *Engine) handlePropose(ctx context.Context, c *cycle) (string, error) {
	for _, p := range c.plans {
		if err := e.plan(ctx, c, "Propose", p, nil); err != nil {
			return "", err
		}
	}
	return "ProposeVote", nil
}

func (e *Engine) handleProposeVote(ctx context.Context, c *cycle) (string, error) {
	start, stop := protocol.StepTags(c.step)

	for i, p := range c.plans {
		planMsg, ok := p.Message(-3)
		if !ok {
			return "", fmt.Errorf("plan %d has no plan step before its implementation", p.PlanIdx())
		}
		implMsg, _ := p.Message(-1)

		c.candidates[i] = candidate{
			plan:           protocol.StripStepTags(planMsg.Content),
			implementation: strings.TrimSpace(protocol.StripStepTags(implMsg.Content)),
		}
		user := map[string]any{
			"step_plan":           c.candidates[i].plan,
			"step_implementation": c.candidates[i].implementation,
		}

		for _, voter := range c.proposeVoters {
			if err := e.vote(ctx, c, "ProposeVote", start, stop, p, voter, nil, user); err != nil {
				return "", err
			}
		}
	}
	return "SumProposeVotes", nil
}

func (e *Engine) handleSumProposeVotes(ctx context.Context, c *cycle) (string, error) {
	scores, err := e.reduceScores(ctx, c.proposeVoters, c.step, len(c.plans))
	if err != nil {
		return "", err
	}
	c.scores = scores
	return "ChooseProposition", nil
}

func (e *Engine) handleChooseProposition(ctx context.Context, c *cycle) (string, error) {
	e.choose(ctx, c, "proposition")
	c.chosen = c.candidates[c.best]
	return "Exec", nil
}

func (e *Engine) handleExec(ctx context.Context, c *cycle) (string, error) {
	best := c.winner()
	planMsg, _ := best.Message(-3)
	fenced, ok := best.Message(-1)
	if !ok {
		return "", &ExecError{Step: c.step, Err: protocol.ErrNoCodeBlock}
	}

	language, code, err := protocol.ExtractCode(fenced.Content)
	if err != nil {
		return "", &ExecError{Step: c.step, Text: fenced.Content, Err: err}
	}

	outcome, err := e.executor.Execute(ctx, language, code)
	if err != nil {
		return "", fmt.Errorf("execute step %d: %w", c.step, err)
	}
	c.language, c.code, c.outcome = language, code, outcome

	start, stop := protocol.StepTags(c.step)
	h := &c.execHistory
	h.WriteString(start + "\n")
	h.WriteString("<plan>" + protocol.StripStepTags(planMsg.Content) + "</plan>\n")
	h.WriteString("<code>" + code + "</code>\n")
	h.WriteString("<std_output>" + outcome.Stdout + "</std_output>\n")
	h.WriteString("<std_error>" + outcome.Stderr + "</std_error>\n")
	h.WriteString(stop + "\n")

	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Info().
		Int("step", c.step).
		Str("language", language).
		Bool("failed", outcome.Failed()).
		Msg("Implementation executed")

	if outcome.Failed() {
		return "PlanErrorFix", nil
	}
	return "ExecVote", nil
}

func (e *Engine) handlePlanErrorFix(ctx context.Context, c *cycle) (string, error) {
	extra := map[string]any{"output": c.outcome.Stdout, "error": c.outcome.Stderr}
	for _, p := range c.plans {
		if err := e.plan(ctx, c, "PlanErrorFix", p, extra); err != nil {
			return "", err
		}
	}

	if err := e.advance(c, "error"); err != nil {
		return "", err
	}
	return "PlanVote", nil
}

func (e *Engine) handleExecVote(ctx context.Context, c *cycle) (string, error) {
	user := map[string]any{
		"output":              c.outcome.Stdout,
		"error":               c.outcome.Stderr,
		"step_plan":           c.chosen.plan,
		"step_implementation": c.chosen.implementation,
	}
	for _, voter := range c.execVoters {
		if err := e.vote(ctx, c, "ExecVote", execStart, execStop, c.winner(), voter, nil, user); err != nil {
			return "", err
		}
	}
	return "SumExecVote", nil
}

func (e *Engine) handleSumExecVote(ctx context.Context, c *cycle) (string, error) {
	yes, err := e.countYes(ctx, c.execVoters, c.step)
	if err != nil {
		return "", err
	}
	c.yesFraction = float64(yes) / float64(len(c.execVoters))

	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Info().
		Int("step", c.step).
		Int("yes", yes).
		Float64("fraction", c.yesFraction).
		Msg("Completion votes counted")

	if quorum(yes, len(c.execVoters)) {
		return "Done", nil
	}
	if err := e.advance(c, "incomplete"); err != nil {
		return "", err
	}
	return "Plan", nil
}

// plan asks plan stream p for its next reply at path.
func (e *Engine) plan(ctx context.Context, c *cycle, path string, p *memory.Stream, extra map[string]any) error {
	start, stop := protocol.StepTags(c.step)

	system := map[string]any{"task": c.task}
	user := map[string]any{"step_num": c.step}
	for k, v := range extra {
		system[k] = v
		user[k] = v
	}

	if err := p.LoadSystem(e.prompts, path, system); err != nil {
		return err
	}
	if err := p.LoadUser(e.prompts, path, user); err != nil {
		return err
	}
	p.LoadAssistantPrefill(start)

	reply, err := e.completer.Complete(ctx, p.Request([]string{stop}, e.cfg.Temperature))
	if err != nil {
		return fmt.Errorf("plan %d: %w", p.PlanIdx(), err)
	}
	p.StoreReply(start + reply + stop)
	return nil
}

// vote asks voter to judge plan stream p and records the reply.
func (e *Engine) vote(ctx context.Context, c *cycle, path, start, stop string, p, voter *memory.Stream, systemExtra, userExtra map[string]any) error {
	system := map[string]any{"task": c.task}
	for k, v := range systemExtra {
		system[k] = v
	}
	user := map[string]any{"step_num": c.step}
	for k, v := range userExtra {
		user[k] = v
	}

	voter.SetPlanIdx(p.PlanIdx())
	if err := voter.LoadSystem(e.prompts, path, system); err != nil {
		return err
	}
	if err := voter.LoadUser(e.prompts, path, user); err != nil {
		return err
	}
	voter.LoadAssistantPrefill(start)

	reply, err := e.completer.Complete(ctx, voter.Request([]string{stop}, e.cfg.Temperature))
	if err != nil {
		return fmt.Errorf("voter %d on plan %d: %w", voter.VoterIdx(), p.PlanIdx(), err)
	}

	text := start + reply + stop
	voter.StoreReply(text)
	voter.AddVote(memory.VoteRecord{Step: c.step, PlanIdx: p.PlanIdx(), Text: text})
	observability.RecordVote(strings.ToLower(path))
	return nil
}

// choose selects the best-scored stream and copies its history into the
// others.
func (e *Engine) choose(ctx context.Context, c *cycle, kind string) {
	c.best = choosePlan(c.scores)
	c.copyFromBest()
	c.selections = append(c.selections, Selection{
		Step:   c.step,
		Kind:   kind,
		Index:  c.best,
		Scores: append([]Scores(nil), c.scores...),
	})

	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Info().
		Int("step", c.step).
		Str("kind", kind).
		Int("index", c.best).
		Interface("scores", c.scores[c.best].Map()).
		Msg("Candidate chosen")
}

// advance moves to the next step.
func (e *Engine) advance(c *cycle, reason string) error {
	if e.cfg.MaxSteps > 0 && c.step >= e.cfg.MaxSteps {
		return fmt.Errorf("%w: %d", ErrStepLimit, e.cfg.MaxSteps)
	}
	c.step++
	observability.RecordSearchStep(reason)
	return nil
}

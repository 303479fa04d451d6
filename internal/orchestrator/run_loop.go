package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/seanmoran/hivemind/internal/event"
	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/pkg/models"
)

// completionKind distinguishes executor results from judge results on
// the loop's single completion channel.
type completionKind int

const (
	execDone completionKind = iota
	judgeDone
)

// completion is one fan-in message back to the loop.
type completion struct {
	kind    completionKind
	taskID  string
	agentID string
	started time.Time
	result  *models.ExecutionResult
	verdict *models.JudgeVerdict
	err     error
}

// inflightTask tracks one dispatched task.
type inflightTask struct {
	taskID   string
	agentID  string
	started  time.Time
	cancelFn context.CancelFunc
}

// Run executes the control loop until the tree drains, the context is
// cancelled, or the failure threshold is crossed. The loop is the only
// writer of task statuses while running.
func (o *Orchestrator) Run(ctx context.Context) error {
	inflight := make(map[string]*inflightTask)
	completionCh := make(chan completion, o.session.Config.MaxConcurrentAgents*2)

	defer o.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			o.abandonInflight(inflight)
			return ctx.Err()

		case c := <-completionCh:
			if err := o.handleCompletion(ctx, c, inflight, completionCh); err != nil {
				o.abandonInflight(inflight)
				return err
			}

		default:
			ready := o.tree.Ready()
			o.pool.SetQueueDepth(len(ready))

			if len(ready) == 0 && len(inflight) == 0 {
				return nil
			}
			if len(ready) == 0 {
				select {
				case <-ctx.Done():
					o.abandonInflight(inflight)
					return ctx.Err()
				case c := <-completionCh:
					if err := o.handleCompletion(ctx, c, inflight, completionCh); err != nil {
						o.abandonInflight(inflight)
						return err
					}
				case <-time.After(o.cfg.PollInterval):
				}
				continue
			}

			if o.cfg.AutoScale {
				if target, rec := o.pool.RecommendedTarget(); rec != models.ScaleHold {
					if _, err := o.Scale(target, string(rec)); err != nil {
						log.Printf("[orchestrator] autoscale to %d: %v", target, err)
					}
				}
			}

			if dispatched := o.dispatch(ctx, ready, inflight, completionCh); dispatched == 0 {
				// Pool saturated or nothing assignable; wait for a
				// completion instead of spinning.
				select {
				case <-ctx.Done():
					o.abandonInflight(inflight)
					return ctx.Err()
				case c := <-completionCh:
					if err := o.handleCompletion(ctx, c, inflight, completionCh); err != nil {
						o.abandonInflight(inflight)
						return err
					}
				case <-time.After(o.cfg.PollInterval):
				}
			}
		}
	}
}

// dispatch assigns ready tasks to idle workers and fans out executor
// calls. Tasks the pool cannot take stay pending for the next tick.
func (o *Orchestrator) dispatch(ctx context.Context, ready []*models.HierarchicalTask, inflight map[string]*inflightTask, completionCh chan<- completion) int {
	assignments := o.pool.Assign(ready)
	dispatched := 0
	byID := make(map[string]*models.HierarchicalTask, len(ready))
	for _, t := range ready {
		byID[t.ID] = t
	}

	for _, a := range assignments {
		task := byID[a.TaskID]
		if task == nil {
			continue
		}
		if task.Status == models.TaskStatusPending {
			if err := o.transition(task.ID, models.TaskStatusQueued); err != nil {
				log.Printf("[orchestrator] queue %s: %v", task.ID, err)
				o.pool.Release(a.AgentID, true, 0)
				continue
			}
		}
		if err := o.transition(task.ID, models.TaskStatusInProgress); err != nil {
			log.Printf("[orchestrator] dispatch %s: %v", task.ID, err)
			o.pool.Release(a.AgentID, true, 0)
			continue
		}

		taskCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
		inf := &inflightTask{
			taskID:   task.ID,
			agentID:  a.AgentID,
			started:  time.Now(),
			cancelFn: cancel,
		}
		inflight[task.ID] = inf
		dispatched++
		o.publish(event.NewTaskDispatched(o.session.ID, task.ID, a.AgentID, task.RetryCount+1))

		taskCopy := o.tree.GetCopy(task.ID)
		o.wg.Add(1)
		go func(t *models.HierarchicalTask, agentID string, started time.Time) {
			defer o.wg.Done()
			defer cancel()
			result, err := o.exec.Run(taskCtx, t)
			select {
			case completionCh <- completion{
				kind:    execDone,
				taskID:  t.ID,
				agentID: agentID,
				started: started,
				result:  result,
				err:     err,
			}:
			case <-ctx.Done():
			}
		}(taskCopy, a.AgentID, inf.started)
	}
	return dispatched
}

// handleCompletion applies one executor or judge result to the tree.
func (o *Orchestrator) handleCompletion(ctx context.Context, c completion, inflight map[string]*inflightTask, completionCh chan<- completion) error {
	switch c.kind {
	case execDone:
		return o.handleExecDone(ctx, c, inflight, completionCh)
	case judgeDone:
		return o.handleJudgeDone(c, inflight)
	}
	return nil
}

// handleExecDone releases the worker slot and routes the result to
// verification or retry bookkeeping. A task handed to the judge stays
// in the inflight map until its verdict is applied, so the drain check
// waits for outstanding verifications.
func (o *Orchestrator) handleExecDone(ctx context.Context, c completion, inflight map[string]*inflightTask, completionCh chan<- completion) error {
	if inf := inflight[c.taskID]; inf != nil {
		inf.cancelFn()
	}
	duration := time.Since(c.started)

	o.mu.Lock()
	o.session.Metrics.TotalExecutionTime += duration
	o.mu.Unlock()

	success := c.err == nil && c.result != nil && c.result.Success
	o.pool.Release(c.agentID, success, duration)

	if !success {
		delete(inflight, c.taskID)
		reason := executionErrorText(c)
		return o.failAttempt(c.taskID, reason)
	}

	c.result.AgentID = c.agentID
	c.result.Duration = duration
	if !o.tree.Update(c.taskID, func(t *models.HierarchicalTask) { t.Result = c.result }) {
		delete(inflight, c.taskID)
		return nil
	}

	if o.judge == nil {
		delete(inflight, c.taskID)
		if err := o.transition(c.taskID, models.TaskStatusCompleted); err != nil {
			return err
		}
		o.publish(event.NewTaskCompleted(o.session.ID, c.taskID, duration))
		return nil
	}

	if err := o.transition(c.taskID, models.TaskStatusVerifying); err != nil {
		delete(inflight, c.taskID)
		return err
	}
	taskCopy := o.tree.GetCopy(c.taskID)
	result := *c.result
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		verdict, err := o.judge.Verify(ctx, taskCopy, &result)
		select {
		case completionCh <- completion{
			kind:    judgeDone,
			taskID:  taskCopy.ID,
			started: c.started,
			verdict: verdict,
			err:     err,
		}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// handleJudgeDone applies a verdict: completion, rework, or permanent
// failure once judge retries are exhausted.
func (o *Orchestrator) handleJudgeDone(c completion, inflight map[string]*inflightTask) error {
	delete(inflight, c.taskID)
	if o.tree.Get(c.taskID) == nil {
		return nil
	}

	if c.err != nil {
		// Judge infrastructure failure consumes a judge attempt.
		o.recordError(models.SeverityWarning, fmt.Sprintf("judge error: %v", c.err), c.taskID)
		return o.rejectVerdict(c.taskID, "verification could not be completed; retry the work")
	}

	verdict := c.verdict
	o.publish(event.NewVerdictRendered(o.session.ID, *verdict))
	if verdict.RequiresHumanApproval {
		o.recordError(models.SeverityWarning,
			fmt.Sprintf("low-confidence verdict (%.2f) applied automatically", verdict.Confidence), c.taskID)
	}

	if verdict.Passed && !verdict.RequiresRework {
		o.tree.Update(c.taskID, func(t *models.HierarchicalTask) { t.ReworkInstructions = "" })
		if err := o.transition(c.taskID, models.TaskStatusCompleted); err != nil {
			return err
		}
		o.publish(event.NewTaskCompleted(o.session.ID, c.taskID, time.Since(c.started)))
		return nil
	}
	return o.rejectVerdict(c.taskID, verdict.ReworkInstructions)
}

// rejectVerdict sends a task back through rework, or fails it when the
// judge retry budget is spent.
func (o *Orchestrator) rejectVerdict(taskID, instructions string) error {
	var attempts int
	o.tree.Update(taskID, func(t *models.HierarchicalTask) {
		t.JudgeAttempts++
		attempts = t.JudgeAttempts
	})

	o.mu.Lock()
	maxJudge := o.session.Config.MaxJudgeRetries
	o.mu.Unlock()

	if attempts > maxJudge {
		return o.failTask(taskID, fmt.Sprintf("judge rejected result %d times", attempts))
	}

	o.tree.Update(taskID, func(t *models.HierarchicalTask) { t.ReworkInstructions = instructions })
	if err := o.transition(taskID, models.TaskStatusRework); err != nil {
		return err
	}
	o.mu.Lock()
	o.session.Metrics.TotalReworks++
	o.mu.Unlock()
	// Rework re-enters the ready queue immediately.
	if err := o.transition(taskID, models.TaskStatusPending); err != nil {
		return err
	}
	o.publish(event.NewTaskRework(o.session.ID, taskID, attempts, instructions))
	return nil
}

// failAttempt books one failed executor attempt against a task,
// retrying when the classification and budget allow.
func (o *Orchestrator) failAttempt(taskID, reason string) error {
	retryable := executor.Classify(reason) == executor.Retryable
	canRetry := false
	found := o.tree.Update(taskID, func(t *models.HierarchicalTask) {
		if retryable && t.RetryCount < t.MaxRetries {
			t.RetryCount++
			canRetry = true
		}
	})
	if !found {
		return nil
	}

	if canRetry {
		o.mu.Lock()
		o.session.Metrics.TotalRetries++
		o.mu.Unlock()
		o.recordError(models.SeverityWarning, fmt.Sprintf("attempt failed, will retry: %s", reason), taskID)
		return o.transition(taskID, models.TaskStatusPending)
	}
	return o.failTask(taskID, reason)
}

// failTask marks a task permanently failed and checks the session's
// failure threshold.
func (o *Orchestrator) failTask(taskID, reason string) error {
	if err := o.transition(taskID, models.TaskStatusFailed); err != nil {
		return err
	}
	o.tree.Update(taskID, func(t *models.HierarchicalTask) {
		if t.Result == nil {
			t.Result = &models.ExecutionResult{}
		}
		t.Result.Success = false
		t.Result.Error = reason
	})
	o.mu.Lock()
	o.session.RecordError(models.SeverityError, reason, taskID)
	rate := o.session.Metrics.FailureRate()
	threshold := o.session.Config.FailureThresholdPercent
	o.mu.Unlock()

	o.publish(event.NewTaskFailed(o.session.ID, taskID, reason))
	if threshold > 0 && rate > threshold {
		o.recordError(models.SeverityCritical,
			fmt.Sprintf("failure rate %.1f%% exceeds threshold %.1f%%", rate, threshold), "")
		return fmt.Errorf("%w: %.1f%% of tasks failed", ErrFailureThreshold, rate)
	}
	return nil
}

// abandonInflight cancels outstanding executor calls. Their tasks stay
// in_progress and are reset to pending on the next restore.
func (o *Orchestrator) abandonInflight(inflight map[string]*inflightTask) {
	for _, inf := range inflight {
		inf.cancelFn()
	}
}

// executionErrorText summarizes a failed completion for classification
// and the error log.
func executionErrorText(c completion) string {
	if c.err != nil {
		return c.err.Error()
	}
	if c.result != nil && c.result.Error != "" {
		return c.result.Error
	}
	return "executor reported failure without detail"
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seanmoran/hivemind/internal/event"
	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/internal/judge"
	"github.com/seanmoran/hivemind/internal/planner"
	"github.com/seanmoran/hivemind/internal/pool"
	"github.com/seanmoran/hivemind/internal/tree"
	"github.com/seanmoran/hivemind/pkg/models"
)

// stubExec counts attempts per task and delegates to fn.
type stubExec struct {
	mu       sync.Mutex
	attempts map[string]int
	fn       func(task *models.HierarchicalTask, attempt int) (*models.ExecutionResult, error)
}

func newStubExec(fn func(task *models.HierarchicalTask, attempt int) (*models.ExecutionResult, error)) *stubExec {
	return &stubExec{attempts: make(map[string]int), fn: fn}
}

func (s *stubExec) Run(_ context.Context, task *models.HierarchicalTask) (*models.ExecutionResult, error) {
	s.mu.Lock()
	s.attempts[task.ID]++
	n := s.attempts[task.ID]
	s.mu.Unlock()
	return s.fn(task, n)
}

func (s *stubExec) count(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[taskID]
}

func testConfig() models.SessionConfig {
	cfg := models.DefaultSessionConfig()
	cfg.MaxConcurrentAgents = 2
	cfg.MaxRetries = 2
	cfg.MaxJudgeRetries = 2
	cfg.FailureThresholdPercent = 0
	cfg.AgentTimeout = 5 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg models.SessionConfig, exec executor.Executor, j *judge.Judge) (*Orchestrator, *tree.Tree, *models.SwarmSession) {
	t.Helper()
	session := &models.SwarmSession{
		ID:        "s1",
		Name:      "test",
		Status:    models.SessionActive,
		Config:    cfg,
		Metrics:   models.NewSessionMetrics(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	tr := tree.New(cfg.MaxTaskDepth)
	p, err := pool.New(pool.Config{
		InitialAgents: cfg.MaxConcurrentAgents,
		MinAgents:     1,
		MaxAgents:     cfg.MaxAgents,
		MaxConcurrent: cfg.MaxConcurrentAgents,
		AgentTimeout:  cfg.AgentTimeout,
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	o, err := New(Deps{
		Session:  session,
		Tree:     tr,
		Pool:     p,
		Judge:    j,
		Executor: exec,
		Bus:      event.NewBus(),
	}, Config{AgentTimeout: cfg.AgentTimeout, PollInterval: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, tr, session
}

func insert(t *testing.T, o *Orchestrator, id string, deps ...string) {
	t.Helper()
	err := o.InsertTask(&models.HierarchicalTask{
		ID:           id,
		Title:        "task " + id,
		Prompt:       "do " + id,
		Dependencies: deps,
	})
	if err != nil {
		t.Fatalf("InsertTask %s: %v", id, err)
	}
}

func runLoop(t *testing.T, o *Orchestrator) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.Run(ctx)
}

func TestRunLinearChainWithCap(t *testing.T) {
	var mu sync.Mutex
	completed := make(map[string]bool)
	var order []string

	exec := newStubExec(nil)
	exec.fn = func(task *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		mu.Lock()
		order = append(order, task.ID)
		// Dependencies must be complete before dispatch.
		for _, dep := range task.Dependencies {
			if !completed[dep] {
				mu.Unlock()
				return nil, fmt.Errorf("task %s dispatched before dependency %s completed", task.ID, dep)
			}
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		completed[task.ID] = true
		mu.Unlock()
		return &models.ExecutionResult{Success: true, Output: "done"}, nil
	}

	o, tr, session := newTestOrchestrator(t, testConfig(), exec, nil)
	insert(t, o, "A")
	insert(t, o, "B", "A")
	insert(t, o, "C", "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []string{"A", "B", "C"} {
		if got := tr.Get(id).Status; got != models.TaskStatusCompleted {
			t.Errorf("task %s status = %s, want completed", id, got)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "A" {
		t.Errorf("dispatch order = %v, want A first", order)
	}
	if len(order) != 3 {
		t.Errorf("expected 3 dispatches, got %v", order)
	}
	if !session.Metrics.Consistent() {
		t.Errorf("metrics inconsistent: %+v", session.Metrics)
	}
	if session.Metrics.CompletedTasks != 3 {
		t.Errorf("completed = %d, want 3", session.Metrics.CompletedTasks)
	}
}

func TestRetryExhaustion(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		return &models.ExecutionResult{Success: false, Error: "connection refused"}, nil
	})
	cfg := testConfig()
	cfg.MaxRetries = 2
	o, tr, session := newTestOrchestrator(t, cfg, exec, nil)
	insert(t, o, "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tr.Get("A").Status; got != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if n := exec.count("A"); n != 3 {
		t.Errorf("attempts = %d, want exactly maxRetries+1 = 3", n)
	}
	if !session.Metrics.Consistent() {
		t.Errorf("metrics inconsistent: %+v", session.Metrics)
	}
	if tr.Get("A").Result.Error == "" {
		t.Error("failed task should surface its last error")
	}
}

func TestFatalErrorSkipsRetry(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		return &models.ExecutionResult{Success: false, Error: "invalid api key"}, nil
	})
	o, tr, _ := newTestOrchestrator(t, testConfig(), exec, nil)
	insert(t, o, "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tr.Get("A").Status; got != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if n := exec.count("A"); n != 1 {
		t.Errorf("attempts = %d, want 1 for fatal error", n)
	}
}

func judgeFor(cfg models.SessionConfig, eval judge.Evaluator) *judge.Judge {
	return judge.New(judge.Config{
		PassThreshold:       cfg.JudgePassThreshold,
		AutoReworkOnFailure: true,
	}, eval)
}

func TestJudgeReworkThenPass(t *testing.T) {
	var execMu sync.Mutex
	var prompts []string
	exec := newStubExec(func(task *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		execMu.Lock()
		prompts = append(prompts, task.ReworkInstructions)
		execMu.Unlock()
		return &models.ExecutionResult{Success: true, Output: "work"}, nil
	})

	var verdicts int
	var judgeMu sync.Mutex
	eval := judge.EvaluatorFunc(func(_ context.Context, _ *models.HierarchicalTask, _ *models.ExecutionResult, _ []models.JudgeCriterion) (string, error) {
		judgeMu.Lock()
		defer judgeMu.Unlock()
		verdicts++
		if verdicts == 1 {
			return "COMPLETENESS: 0.2 - half missing\nCORRECTNESS: 0.3\nQUALITY: 0.5\nTESTING: 0.0", nil
		}
		return "COMPLETENESS: 1.0\nCORRECTNESS: 1.0\nQUALITY: 1.0\nTESTING: 1.0", nil
	})

	cfg := testConfig()
	o, tr, _ := newTestOrchestrator(t, cfg, exec, judgeFor(cfg, eval))
	insert(t, o, "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	task := tr.Get("A")
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed after rework", task.Status)
	}
	if task.JudgeAttempts != 1 {
		t.Errorf("judge attempts = %d, want 1", task.JudgeAttempts)
	}
	if task.ReworkInstructions != "" {
		t.Errorf("rework instructions should be cleared on pass, got %q", task.ReworkInstructions)
	}
	execMu.Lock()
	defer execMu.Unlock()
	if len(prompts) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(prompts))
	}
	if prompts[0] != "" || prompts[1] == "" {
		t.Errorf("second execution should carry rework instructions: %q", prompts)
	}
}

func TestJudgeRetriesExhausted(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		return &models.ExecutionResult{Success: true, Output: "work"}, nil
	})
	eval := judge.EvaluatorFunc(func(_ context.Context, _ *models.HierarchicalTask, _ *models.ExecutionResult, _ []models.JudgeCriterion) (string, error) {
		return "COMPLETENESS: 0.1\nCORRECTNESS: 0.1\nQUALITY: 0.1\nTESTING: 0.1", nil
	})

	cfg := testConfig()
	cfg.MaxJudgeRetries = 1
	o, tr, _ := newTestOrchestrator(t, cfg, exec, judgeFor(cfg, eval))
	insert(t, o, "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	task := tr.Get("A")
	if task.Status != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed after judge retries", task.Status)
	}
	if task.JudgeAttempts != cfg.MaxJudgeRetries+1 {
		t.Errorf("judge attempts = %d, want %d", task.JudgeAttempts, cfg.MaxJudgeRetries+1)
	}
}

func TestMetricsCountRetriesAndReworks(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, attempt int) (*models.ExecutionResult, error) {
		if attempt == 1 {
			return &models.ExecutionResult{Success: false, Error: "connection refused"}, nil
		}
		return &models.ExecutionResult{Success: true, Output: "work"}, nil
	})

	var verdicts int
	var judgeMu sync.Mutex
	eval := judge.EvaluatorFunc(func(_ context.Context, _ *models.HierarchicalTask, _ *models.ExecutionResult, _ []models.JudgeCriterion) (string, error) {
		judgeMu.Lock()
		defer judgeMu.Unlock()
		verdicts++
		if verdicts == 1 {
			return "COMPLETENESS: 0.1\nCORRECTNESS: 0.1\nQUALITY: 0.1\nTESTING: 0.1", nil
		}
		return "COMPLETENESS: 1.0\nCORRECTNESS: 1.0\nQUALITY: 1.0\nTESTING: 1.0", nil
	})

	cfg := testConfig()
	o, tr, session := newTestOrchestrator(t, cfg, exec, judgeFor(cfg, eval))
	insert(t, o, "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tr.Get("A").Status; got != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	// One failed attempt retried, one verdict rejected and reworked.
	if session.Metrics.TotalRetries != 1 {
		t.Errorf("total retries = %d, want 1", session.Metrics.TotalRetries)
	}
	if session.Metrics.TotalReworks != 1 {
		t.Errorf("total reworks = %d, want 1", session.Metrics.TotalReworks)
	}
	if session.Metrics.TotalExecutionTime <= 0 {
		t.Errorf("total execution time = %s, want > 0", session.Metrics.TotalExecutionTime)
	}
}

func TestFailureThresholdAbortsRun(t *testing.T) {
	exec := newStubExec(func(task *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		if task.ID == "bad" {
			return &models.ExecutionResult{Success: false, Error: "permission denied"}, nil
		}
		time.Sleep(20 * time.Millisecond)
		return &models.ExecutionResult{Success: true}, nil
	})
	cfg := testConfig()
	cfg.FailureThresholdPercent = 40
	o, _, session := newTestOrchestrator(t, cfg, exec, nil)
	insert(t, o, "bad")
	insert(t, o, "slow", "bad")

	err := runLoop(t, o)
	if !errors.Is(err, ErrFailureThreshold) {
		t.Fatalf("Run err = %v, want ErrFailureThreshold", err)
	}
	var critical bool
	for _, e := range session.Errors {
		if e.Severity == models.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Error("threshold breach should log a critical session error")
	}
}

func TestPlanInsertsChildren(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		return &models.ExecutionResult{Success: true}, nil
	})
	pl := planner.New(planner.ConsultantFunc(func(_ context.Context, _ *models.HierarchicalTask, _ planner.Bounds) (string, error) {
		return `[{"title": "part one", "prompt": "x"}, {"title": "part two", "prompt": "y", "depends_on": ["part one"]}]`, nil
	}))

	cfg := testConfig()
	session := &models.SwarmSession{
		ID: "s1", Status: models.SessionActive, Config: cfg,
		Metrics: models.NewSessionMetrics(), ExpiresAt: time.Now().Add(time.Hour),
	}
	tr := tree.New(cfg.MaxTaskDepth)
	p, _ := pool.New(pool.Config{InitialAgents: 1, MinAgents: 1, MaxAgents: 2})
	o, err := New(Deps{Session: session, Tree: tr, Pool: p, Planner: pl, Executor: exec}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	insert(t, o, "root")

	created, depthReached, err := o.Plan(context.Background(), "root", 0, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if created != 2 || depthReached {
		t.Errorf("created=%d depthReached=%v, want 2/false", created, depthReached)
	}
	root := tr.Get("root")
	if len(root.Children) != 2 {
		t.Errorf("root children = %v", root.Children)
	}
	if tr.Len() != 3 {
		t.Errorf("tree len = %d, want 3", tr.Len())
	}
	if !session.Metrics.Consistent() || session.Metrics.TotalTasks != 3 {
		t.Errorf("metrics = %+v", session.Metrics)
	}
}

func TestPlanRespectsTotalTaskLimit(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		return &models.ExecutionResult{Success: true}, nil
	})
	pl := planner.New(planner.ConsultantFunc(func(_ context.Context, _ *models.HierarchicalTask, _ planner.Bounds) (string, error) {
		return `[{"title": "a", "prompt": "x"}, {"title": "b", "prompt": "y"}]`, nil
	}))

	cfg := testConfig()
	cfg.MaxTotalTasks = 2
	session := &models.SwarmSession{
		ID: "s1", Status: models.SessionActive, Config: cfg,
		Metrics: models.NewSessionMetrics(), ExpiresAt: time.Now().Add(time.Hour),
	}
	tr := tree.New(cfg.MaxTaskDepth)
	p, _ := pool.New(pool.Config{InitialAgents: 1, MinAgents: 1, MaxAgents: 2})
	o, _ := New(Deps{Session: session, Tree: tr, Pool: p, Planner: pl, Executor: exec}, Config{})
	insert(t, o, "root")

	if _, _, err := o.Plan(context.Background(), "root", 0, 0); !errors.Is(err, ErrResourceLimit) {
		t.Errorf("Plan err = %v, want ErrResourceLimit", err)
	}
}

func TestEventsEmittedAfterMutation(t *testing.T) {
	exec := newStubExec(func(_ *models.HierarchicalTask, _ int) (*models.ExecutionResult, error) {
		return &models.ExecutionResult{Success: true}, nil
	})
	o, tr, _ := newTestOrchestrator(t, testConfig(), exec, nil)

	var mu sync.Mutex
	var seen []string
	o.bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.EventType())
		if e.EventType() == event.TypeTaskCompleted {
			// The task status must already reflect the event.
			if got := tr.Get("A").Status; got != models.TaskStatusCompleted {
				t.Errorf("completed event before status update: %s", got)
			}
		}
	})
	insert(t, o, "A")

	if err := runLoop(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	var dispatched, completedEvt bool
	for _, typ := range seen {
		switch typ {
		case event.TypeTaskDispatched:
			dispatched = true
		case event.TypeTaskCompleted:
			completedEvt = true
		}
	}
	if !dispatched || !completedEvt {
		t.Errorf("events = %v, want dispatch and completion", seen)
	}
}

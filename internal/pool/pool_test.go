package pool

import (
	"testing"
	"time"

	"github.com/seanmoran/hivemind/pkg/models"
)

func testConfig() Config {
	return Config{
		InitialAgents:          4,
		MinAgents:              1,
		MaxAgents:              8,
		MaxConcurrent:          4,
		AgentTimeout:           time.Minute,
		ScaleUpThreshold:       4,
		ScaleDownThreshold:     time.Minute,
		MaxConsecutiveFailures: 3,
	}
}

func task(id string, role models.AgentRole) *models.HierarchicalTask {
	return &models.HierarchicalTask{ID: id, Role: role, Priority: models.PriorityMedium}
}

func TestNewValidatesBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAgents = 501
	if _, err := New(cfg); err == nil {
		t.Error("expected error for max agents above 500")
	}

	cfg = testConfig()
	cfg.MinAgents = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected error for min agents below 1")
	}
}

func TestAssignRespectsConcurrencyCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ready := []*models.HierarchicalTask{
		task("t1", models.RoleGeneric),
		task("t2", models.RoleGeneric),
		task("t3", models.RoleGeneric),
	}
	assignments := p.Assign(ready)
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments at ceiling 2, got %d", len(assignments))
	}

	// Ceiling applies across calls while tasks are in flight.
	if more := p.Assign(ready[2:]); len(more) != 0 {
		t.Errorf("expected no assignments while at ceiling, got %d", len(more))
	}

	p.Release(assignments[0].AgentID, true, time.Second)
	if more := p.Assign(ready[2:]); len(more) != 1 {
		t.Errorf("expected 1 assignment after release, got %d", len(more))
	}
}

func TestAssignPrefersRoleMatch(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 2
	cfg.Roles = []models.AgentRole{models.RoleCoder, models.RoleGeneric}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	assignments := p.Assign([]*models.HierarchicalTask{task("t1", models.RoleCoder)})
	if len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(assignments))
	}
	if assignments[0].Role != models.RoleCoder {
		t.Errorf("expected coder worker chosen, got %s", assignments[0].Role)
	}

	// A task with no matching specialist falls back to the generic worker.
	assignments = p.Assign([]*models.HierarchicalTask{task("t2", models.RoleTester)})
	if len(assignments) != 1 {
		t.Fatalf("expected fallback assignment, got %d", len(assignments))
	}
	if assignments[0].Role != models.RoleGeneric {
		t.Errorf("expected generic fallback, got %s", assignments[0].Role)
	}
}

func TestSpecialistNeverTakesForeignRole(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 1
	cfg.Roles = []models.AgentRole{models.RoleCoder}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	assignments := p.Assign([]*models.HierarchicalTask{task("t1", models.RoleTester)})
	if len(assignments) != 0 {
		t.Errorf("coder must not accept tester task, got %d assignments", len(assignments))
	}
}

func TestScaleBounds(t *testing.T) {
	p, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	stats, err := p.Scale(100, "test")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAgents != 8 {
		t.Errorf("scale above max should clamp to 8, got %d", stats.TotalAgents)
	}

	if _, err := p.Scale(0, "test"); err == nil {
		t.Error("expected error for non-positive target")
	}

	stats, err = p.Scale(1, "test")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAgents != 1 {
		t.Errorf("expected scale down to 1, got %d", stats.TotalAgents)
	}
}

func TestScaleDownSparesBusyWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 3
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	assignments := p.Assign([]*models.HierarchicalTask{
		task("t1", models.RoleGeneric),
		task("t2", models.RoleGeneric),
	})
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}

	stats, err := p.Scale(1, "test")
	if err != nil {
		t.Fatal(err)
	}
	// Only the single idle worker can be removed; the two busy workers
	// keep running.
	if stats.BusyAgents != 2 {
		t.Errorf("busy workers must survive scale-down, got %d busy", stats.BusyAgents)
	}
	if stats.TotalAgents != 2 {
		t.Errorf("expected 2 workers after removing the idle one, got %d", stats.TotalAgents)
	}
}

func TestHealthDegradedAndCritical(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 2
	cfg.MaxConsecutiveFailures = 2
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if got := p.Stats().Health; got != models.PoolHealthy {
		t.Errorf("fresh pool should be healthy, got %s", got)
	}

	assignments := p.Assign([]*models.HierarchicalTask{
		task("t1", models.RoleGeneric),
		task("t2", models.RoleGeneric),
	})
	p.SetQueueDepth(3)
	if got := p.Stats().Health; got != models.PoolUnhealthy {
		t.Errorf("saturated pool with backlog should be unhealthy, got %s", got)
	}

	for _, a := range assignments {
		p.Release(a.AgentID, false, time.Second)
	}
	// Third consecutive failure crosses the limit of 2.
	a := p.Assign([]*models.HierarchicalTask{task("t3", models.RoleGeneric)})
	if len(a) == 0 {
		t.Fatal("expected an assignment after workers failed")
	}
	p.Release(a[0].AgentID, false, time.Second)
	if got := p.Stats().Health; got != models.PoolCritical {
		t.Errorf("expected critical after 3 consecutive failures, got %s", got)
	}
}

func TestFailedWorkersBecomeAssignableAgain(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 2
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	assignments := p.Assign([]*models.HierarchicalTask{
		task("t1", models.RoleGeneric),
		task("t2", models.RoleGeneric),
	})
	if len(assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(assignments))
	}
	for _, a := range assignments {
		p.Release(a.AgentID, false, time.Second)
	}
	if got := p.Stats().FailedAgents; got != 2 {
		t.Fatalf("expected 2 failed workers before reassignment, got %d", got)
	}

	// With every worker failed, a retried task must still get a slot.
	retry := p.Assign([]*models.HierarchicalTask{task("t1", models.RoleGeneric)})
	if len(retry) != 1 {
		t.Fatalf("expected retried task to be assigned, got %d assignments", len(retry))
	}

	// The failure history survives the recovery.
	stats := p.Stats()
	if stats.ConsecutiveFailures != 2 {
		t.Errorf("expected failure streak of 2, got %d", stats.ConsecutiveFailures)
	}
	agents := p.Agents()
	failed := 0
	for _, a := range agents {
		failed += a.FailedTasks
	}
	if failed != 2 {
		t.Errorf("expected 2 recorded task failures across workers, got %d", failed)
	}
}

func TestRecommendation(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 2
	cfg.ScaleUpThreshold = 2
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	p.SetQueueDepth(5)
	target, rec := p.RecommendedTarget()
	if rec != models.ScaleUp {
		t.Fatalf("expected scale-up recommendation, got %s", rec)
	}
	if target <= 2 || target > cfg.MaxAgents {
		t.Errorf("expected target in (2,%d], got %d", cfg.MaxAgents, target)
	}

	p.SetQueueDepth(0)
	if _, rec := p.RecommendedTarget(); rec == models.ScaleUp {
		t.Error("no backlog should not recommend scale-up")
	}
}

func TestRecoverAllFailed(t *testing.T) {
	cfg := testConfig()
	cfg.InitialAgents = 1
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	a := p.Assign([]*models.HierarchicalTask{task("t1", models.RoleGeneric)})
	if len(a) != 1 {
		t.Fatal("expected assignment")
	}
	p.Release(a[0].AgentID, false, time.Second)
	if p.Stats().FailedAgents != 1 {
		t.Fatal("worker should be failed after unsuccessful release")
	}

	if n := p.RecoverAllFailed(); n != 1 {
		t.Errorf("expected 1 recovered worker, got %d", n)
	}
	if p.Stats().IdleAgents != 1 {
		t.Error("recovered worker should be idle")
	}
}

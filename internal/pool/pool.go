// Package pool manages the bounded set of worker slots that execute
// tasks. It assigns ready tasks to idle workers respecting the
// concurrency ceiling, priority order, and role compatibility, and can
// resize itself between configured bounds.
package pool

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seanmoran/hivemind/pkg/models"
)

// HardMaxAgents is the absolute ceiling on pool capacity.
const HardMaxAgents = 500

// Config holds the pool's sizing and health parameters.
type Config struct {
	// InitialAgents is the starting pool capacity.
	InitialAgents int
	// MinAgents is the scale-down floor.
	MinAgents int
	// MaxAgents is the scale-up ceiling (at most 500).
	MaxAgents int
	// MaxConcurrent caps simultaneously busy workers.
	MaxConcurrent int
	// Roles assigns specializations to the initial workers, cycled in
	// order. Workers beyond the list get RoleGeneric.
	Roles []models.AgentRole
	// AgentTimeout bounds a single execution, recorded on each worker.
	AgentTimeout time.Duration
	// ScaleUpThreshold is the queue depth that recommends scale-up.
	ScaleUpThreshold int
	// ScaleDownThreshold is the idle time that recommends scale-down.
	ScaleDownThreshold time.Duration
	// MaxConsecutiveFailures marks the pool critical when exceeded.
	MaxConsecutiveFailures int
}

// Assignment binds one ready task to one idle worker.
type Assignment struct {
	// TaskID is the assigned task.
	TaskID string
	// AgentID is the worker slot.
	AgentID string
	// Role is the worker's specialization.
	Role models.AgentRole
}

// Pool is the worker registry. Cross-session callers must go through its
// methods; the internal lock is the only synchronization.
type Pool struct {
	mu sync.RWMutex

	cfg    Config
	agents map[string]*models.SwarmAgentConfig
	// order records worker creation sequence for deterministic assignment.
	order []string

	// queueDepth is the last reported ready-task backlog.
	queueDepth     int
	lastQueueDepth int

	// consecutiveFailures counts failures since the last success.
	consecutiveFailures int
}

// New creates a pool with the configured initial capacity.
func New(cfg Config) (*Pool, error) {
	if cfg.MaxAgents < 1 || cfg.MaxAgents > HardMaxAgents {
		return nil, fmt.Errorf("max agents must be between 1 and %d, got %d", HardMaxAgents, cfg.MaxAgents)
	}
	if cfg.MinAgents < 1 || cfg.MinAgents > cfg.MaxAgents {
		return nil, fmt.Errorf("min agents must be between 1 and max agents, got %d", cfg.MinAgents)
	}
	if cfg.InitialAgents < cfg.MinAgents {
		cfg.InitialAgents = cfg.MinAgents
	}
	if cfg.InitialAgents > cfg.MaxAgents {
		cfg.InitialAgents = cfg.MaxAgents
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = cfg.InitialAgents
	}

	p := &Pool{
		cfg:    cfg,
		agents: make(map[string]*models.SwarmAgentConfig),
	}
	for i := 0; i < cfg.InitialAgents; i++ {
		role := models.RoleGeneric
		if i < len(cfg.Roles) {
			role = cfg.Roles[i]
		}
		p.addWorkerLocked(role)
	}
	return p, nil
}

// addWorkerLocked appends a new idle worker. Caller must hold p.mu or be
// inside New.
func (p *Pool) addWorkerLocked(role models.AgentRole) *models.SwarmAgentConfig {
	agent := &models.SwarmAgentConfig{
		ID:             uuid.New().String()[:8],
		Role:           role,
		State:          models.AgentIdle,
		Priority:       models.PriorityMedium,
		TimeoutMs:      p.cfg.AgentTimeout.Milliseconds(),
		LastActivityAt: time.Now(),
	}
	p.agents[agent.ID] = agent
	p.order = append(p.order, agent.ID)
	return agent
}

// SetQueueDepth records the current ready-task backlog. The orchestrator
// reports it each scheduling tick so health and scaling advice track the
// backlog trend.
func (p *Pool) SetQueueDepth(depth int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastQueueDepth = p.queueDepth
	p.queueDepth = depth
}

// Assign binds ready tasks to idle workers. Tasks are taken in the given
// order (already priority-sorted with stable ties); a worker accepts a
// task when its role matches or the worker is generic. The number of
// busy workers never exceeds the concurrency ceiling.
func (p *Pool) Assign(ready []*models.HierarchicalTask) []Assignment {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Failed workers rejoin the assignable set on the next scheduling
	// pass. The failure marks on the worker and the pool streak stay;
	// only the slot becomes usable again, so a task with retry budget
	// left can always find a worker.
	for _, agent := range p.agents {
		if agent.State == models.AgentFailed {
			agent.State = models.AgentIdle
		}
	}

	busy := p.busyLocked()
	slots := p.cfg.MaxConcurrent - busy
	if slots <= 0 {
		return nil
	}

	var assignments []Assignment
	assigned := make(map[string]bool)

	for _, task := range ready {
		if len(assignments) >= slots {
			break
		}
		agent := p.pickWorkerLocked(task.Role, assigned)
		if agent == nil {
			continue
		}
		assigned[agent.ID] = true
		agent.State = models.AgentRunning
		agent.TaskID = task.ID
		agent.LastActivityAt = time.Now()
		assignments = append(assignments, Assignment{
			TaskID:  task.ID,
			AgentID: agent.ID,
			Role:    agent.Role,
		})
	}
	return assignments
}

// pickWorkerLocked finds an idle worker compatible with the role. Exact
// role matches are preferred over generic workers.
func (p *Pool) pickWorkerLocked(role models.AgentRole, taken map[string]bool) *models.SwarmAgentConfig {
	var generic *models.SwarmAgentConfig
	for _, id := range p.order {
		agent := p.agents[id]
		if agent == nil || agent.State != models.AgentIdle || taken[id] {
			continue
		}
		if agent.Role == role {
			return agent
		}
		if agent.Role == models.RoleGeneric && generic == nil {
			generic = agent
		}
	}
	return generic
}

// Release returns a worker to idle after an execution, recording the
// outcome in the worker's counters and the pool's failure streak.
func (p *Pool) Release(agentID string, success bool, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return
	}
	agent.TaskID = ""
	agent.TotalExecutionTime += duration
	agent.LastActivityAt = time.Now()

	if success {
		agent.State = models.AgentIdle
		agent.CompletedTasks++
		p.consecutiveFailures = 0
	} else {
		agent.State = models.AgentFailed
		agent.FailedTasks++
		p.consecutiveFailures++
		if p.cfg.MaxConsecutiveFailures > 0 && p.consecutiveFailures > p.cfg.MaxConsecutiveFailures {
			log.Printf("[pool] %d consecutive failures, pool is critical", p.consecutiveFailures)
		}
	}
}

// Recover resets a failed worker back to idle.
func (p *Pool) Recover(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok || agent.State != models.AgentFailed {
		return
	}
	agent.State = models.AgentIdle
	agent.LastActivityAt = time.Now()
}

// RecoverAllFailed resets every failed worker back to idle and returns
// how many were recovered.
func (p *Pool) RecoverAllFailed() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, agent := range p.agents {
		if agent.State == models.AgentFailed {
			agent.State = models.AgentIdle
			agent.LastActivityAt = time.Now()
			n++
		}
	}
	return n
}

// Scale adjusts pool capacity toward target, clamped to the configured
// bounds. Scale-down removes idle or failed workers only; busy workers
// finish their task first, so the effective size may stay above target
// until they are released.
func (p *Pool) Scale(target int, reason string) (models.PoolStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if target < 1 {
		return p.statsLocked(), fmt.Errorf("target must be positive, got %d", target)
	}
	if target < p.cfg.MinAgents {
		target = p.cfg.MinAgents
	}
	if target > p.cfg.MaxAgents {
		target = p.cfg.MaxAgents
	}

	current := len(p.agents)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			p.addWorkerLocked(models.RoleGeneric)
		}
		log.Printf("[pool] scaled up %d -> %d (%s)", current, target, reason)
	case target < current:
		removed := p.removeIdleLocked(current - target)
		log.Printf("[pool] scaled down %d -> %d (%s, %d removed now)", current, current-removed, reason, removed)
	}
	return p.statsLocked(), nil
}

// removeIdleLocked retires up to n idle or failed workers, longest idle
// first. Returns how many were removed.
func (p *Pool) removeIdleLocked(n int) int {
	candidates := make([]*models.SwarmAgentConfig, 0, len(p.agents))
	for _, agent := range p.agents {
		if agent.State == models.AgentIdle || agent.State == models.AgentFailed {
			candidates = append(candidates, agent)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastActivityAt.Before(candidates[j].LastActivityAt)
	})

	removed := 0
	for _, agent := range candidates {
		if removed >= n {
			break
		}
		agent.State = models.AgentStopped
		delete(p.agents, agent.ID)
		for i, id := range p.order {
			if id == agent.ID {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
		removed++
	}
	return removed
}

// Size returns the current pool capacity.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// busyLocked counts running workers. Caller must hold p.mu.
func (p *Pool) busyLocked() int {
	busy := 0
	for _, agent := range p.agents {
		if agent.State == models.AgentRunning {
			busy++
		}
	}
	return busy
}

// Stats reports the pool's current condition.
func (p *Pool) Stats() models.PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statsLocked()
}

// statsLocked builds PoolStats. Caller must hold p.mu.
func (p *Pool) statsLocked() models.PoolStats {
	stats := models.PoolStats{
		TotalAgents:         len(p.agents),
		QueueDepth:          p.queueDepth,
		ConsecutiveFailures: p.consecutiveFailures,
	}
	for _, agent := range p.agents {
		switch agent.State {
		case models.AgentIdle:
			stats.IdleAgents++
		case models.AgentRunning:
			stats.BusyAgents++
		case models.AgentFailed:
			stats.FailedAgents++
		}
	}

	stats.Health = p.healthLocked(stats)
	stats.Recommendation = p.recommendationLocked(stats)
	return stats
}

// healthLocked derives pool health from saturation, backlog trend, and
// the failure streak.
func (p *Pool) healthLocked(stats models.PoolStats) models.PoolHealth {
	if p.cfg.MaxConsecutiveFailures > 0 && p.consecutiveFailures > p.cfg.MaxConsecutiveFailures {
		return models.PoolCritical
	}
	if stats.TotalAgents > 0 && stats.BusyAgents == stats.TotalAgents &&
		stats.QueueDepth > 0 && stats.QueueDepth >= p.lastQueueDepth {
		return models.PoolUnhealthy
	}
	if stats.TotalAgents > 0 && stats.BusyAgents*2 > stats.TotalAgents && stats.QueueDepth > 0 {
		return models.PoolDegraded
	}
	return models.PoolHealthy
}

// recommendationLocked suggests a scaling action: up when the backlog
// exceeds the scale-up threshold with headroom left, down when a worker
// has idled past the scale-down threshold with room to shrink.
func (p *Pool) recommendationLocked(stats models.PoolStats) models.ScalingRecommendation {
	if stats.QueueDepth > p.cfg.ScaleUpThreshold && stats.TotalAgents < p.cfg.MaxAgents {
		return models.ScaleUp
	}
	if stats.TotalAgents > p.cfg.MinAgents && p.cfg.ScaleDownThreshold > 0 {
		cutoff := time.Now().Add(-p.cfg.ScaleDownThreshold)
		for _, agent := range p.agents {
			if agent.State == models.AgentIdle && agent.LastActivityAt.Before(cutoff) {
				return models.ScaleDown
			}
		}
	}
	return models.ScaleHold
}

// RecommendedTarget turns the current recommendation into a concrete
// target size: up by half the backlog, down by one worker at a time.
func (p *Pool) RecommendedTarget() (int, models.ScalingRecommendation) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.statsLocked()
	switch stats.Recommendation {
	case models.ScaleUp:
		target := len(p.agents) + (stats.QueueDepth+1)/2
		if target > p.cfg.MaxAgents {
			target = p.cfg.MaxAgents
		}
		return target, models.ScaleUp
	case models.ScaleDown:
		return len(p.agents) - 1, models.ScaleDown
	default:
		return len(p.agents), models.ScaleHold
	}
}

// Agents returns a copy of the worker registry for metrics and snapshots.
func (p *Pool) Agents() map[string]*models.SwarmAgentConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]*models.SwarmAgentConfig, len(p.agents))
	for id, agent := range p.agents {
		c := *agent
		out[id] = &c
	}
	return out
}

// Package monitor evaluates agent health from the memory ledger and
// the task store, recomputes rolling performance metrics, and explains
// past actions from their memory trail.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/agentflow/internal/memory"
	"github.com/t77yq/agentflow/internal/model"
	"github.com/t77yq/agentflow/internal/notify"
	"github.com/t77yq/agentflow/internal/store"
)

// Config holds the monitor's cadence and thresholds. The bands are
// tuning choices surfaced as configuration.
type Config struct {
	Interval     time.Duration `mapstructure:"interval"`
	MemoryWindow time.Duration `mapstructure:"memory_window"`
	WindowCap    int           `mapstructure:"window_cap"`

	FailureRateMedium   float64       `mapstructure:"failure_rate_medium"`
	FailureRateHigh     float64       `mapstructure:"failure_rate_high"`
	ResponseTimeMedium  time.Duration `mapstructure:"response_time_medium"`
	ResponseTimeHigh    time.Duration `mapstructure:"response_time_high"`
	UnreadMedium        int           `mapstructure:"unread_medium"`
	UnreadHigh          int           `mapstructure:"unread_high"`
	FailedCommsMedium   int           `mapstructure:"failed_comms_medium"`
	StuckWindow         time.Duration `mapstructure:"stuck_window"`
	LoopRepeats         int           `mapstructure:"loop_repeats"`
	ActiveTasksMedium   int           `mapstructure:"active_tasks_medium"`
	ActiveTasksHigh     int           `mapstructure:"active_tasks_high"`
	LedgerSizeLow       int           `mapstructure:"ledger_size_low"`
	LearningWindow      time.Duration `mapstructure:"learning_window"`
}

// DefaultConfig returns the standard monitoring thresholds
func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		MemoryWindow:       2 * time.Hour,
		WindowCap:          50,
		FailureRateMedium:  0.3,
		FailureRateHigh:    0.5,
		ResponseTimeMedium: 5 * time.Second,
		ResponseTimeHigh:   10 * time.Second,
		UnreadMedium:       10,
		UnreadHigh:         20,
		FailedCommsMedium:  3,
		StuckWindow:        30 * time.Minute,
		LoopRepeats:        5,
		ActiveTasksMedium:  8,
		ActiveTasksHigh:    12,
		LedgerSizeLow:      1000,
		LearningWindow:     24 * time.Hour,
	}
}

// SelfMonitor runs one periodic loop evaluating every agent's health
// and refreshing its performance metrics. Checks are replaced
// wholesale each cycle, keyed by agent.
type SelfMonitor struct {
	logger   *zap.Logger
	config   Config
	ledger   *memory.Ledger
	tasks    store.TaskStore
	agents   store.AgentRegistry
	notifier notify.Notifier

	mu      sync.RWMutex
	checks  map[string]*model.HealthCheck
	metrics map[string]*model.PerformanceMetrics

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewSelfMonitor creates a self-monitoring service
func NewSelfMonitor(config Config, ledger *memory.Ledger, tasks store.TaskStore, agents store.AgentRegistry, notifier notify.Notifier, logger *zap.Logger) *SelfMonitor {
	return &SelfMonitor{
		logger:   logger.Named("self-monitor"),
		config:   config,
		ledger:   ledger,
		tasks:    tasks,
		agents:   agents,
		notifier: notifier,
		checks:   make(map[string]*model.HealthCheck),
		metrics:  make(map[string]*model.PerformanceMetrics),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the monitor's clock. Used in tests.
func (m *SelfMonitor) SetClock(now func() time.Time) {
	m.now = now
}

// Start launches the monitoring loop
func (m *SelfMonitor) Start(ctx context.Context) error {
	m.logger.Info("Starting self-monitor",
		zap.Duration("interval", m.config.Interval))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.RunCycle(ctx)
			}
		}
	}()

	return nil
}

// Stop signals the loop to halt and waits for the current cycle
func (m *SelfMonitor) Stop() {
	m.logger.Info("Stopping self-monitor")
	close(m.stop)
	m.wg.Wait()
}

// RunCycle evaluates every agent once. A failure for one agent never
// stops the cycle.
func (m *SelfMonitor) RunCycle(ctx context.Context) {
	agents, err := m.agents.List(ctx)
	if err != nil {
		m.logger.Error("Failed to list agents", zap.Error(err))
		return
	}

	hostCPU, hostMem := m.hostUsage()

	for _, agent := range agents {
		check, err := m.EvaluateAgent(ctx, agent)
		if err != nil {
			m.logger.Error("Health evaluation failed",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
			continue
		}

		metrics, err := m.computeMetrics(ctx, agent, hostCPU, hostMem)
		if err != nil {
			m.logger.Error("Metrics computation failed",
				zap.String("agent_id", agent.ID),
				zap.Error(err))
		}

		m.mu.Lock()
		m.checks[agent.ID] = check
		if metrics != nil {
			m.metrics[agent.ID] = metrics
		}
		m.mu.Unlock()

		if check.Status == model.HealthStatusCritical {
			m.alertSupervisors(ctx, agents, agent, check)
		}
	}
}

// Check returns the latest health check for an agent
func (m *SelfMonitor) Check(agentID string) (*model.HealthCheck, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	check, ok := m.checks[agentID]
	return check, ok
}

// Metrics returns the latest performance metrics for an agent
func (m *SelfMonitor) Metrics(agentID string) (*model.PerformanceMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, ok := m.metrics[agentID]
	return metrics, ok
}

// EvaluateAgent runs the four issue evaluations over the agent's
// recent memory window and derives the overall status.
func (m *SelfMonitor) EvaluateAgent(ctx context.Context, agent *model.Agent) (*model.HealthCheck, error) {
	now := m.now()
	window, err := m.memoryWindow(ctx, agent.ID, now)
	if err != nil {
		return nil, err
	}

	tasks, err := m.tasks.GetByAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent tasks: %w", err)
	}

	ledgerSize, err := m.ledger.Size(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to size ledger: %w", err)
	}

	var issues []model.Issue
	issues = append(issues, m.performanceIssues(window)...)
	issues = append(issues, m.communicationIssues(window, tasks, agent.ID, now)...)
	issues = append(issues, m.logicIssues(window, now)...)
	issues = append(issues, m.resourceIssues(tasks, ledgerSize)...)

	check := &model.HealthCheck{
		AgentID:   agent.ID,
		Status:    deriveStatus(issues),
		Issues:    issues,
		LastCheck: now,
		NextCheck: now.Add(m.config.Interval),
	}
	return check, nil
}

// memoryWindow pulls the recent entries, newest-capped
func (m *SelfMonitor) memoryWindow(ctx context.Context, agentID string, now time.Time) ([]*model.MemoryEntry, error) {
	entries, err := m.ledger.Query(ctx, agentID, memory.Filter{
		Since: now.Add(-m.config.MemoryWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query memory window: %w", err)
	}
	if len(entries) > m.config.WindowCap {
		entries = entries[len(entries)-m.config.WindowCap:]
	}
	return entries, nil
}

func (m *SelfMonitor) performanceIssues(window []*model.MemoryEntry) []model.Issue {
	var issues []model.Issue

	actions := 0
	failures := 0
	var responseTotal time.Duration
	responseSamples := 0
	for _, e := range window {
		if e.Type != model.MemoryAction {
			continue
		}
		actions++
		if isFailureEntry(e) {
			failures++
		}
		if rt := e.DetailFloat("response_time"); rt > 0 {
			responseTotal += time.Duration(rt * float64(time.Second))
			responseSamples++
		}
	}

	if actions > 0 {
		rate := float64(failures) / float64(actions)
		if rate > m.config.FailureRateHigh {
			issues = append(issues, model.Issue{
				Type:            model.IssuePerformance,
				Severity:        model.SeverityHigh,
				Description:     fmt.Sprintf("failure rate %.2f exceeds %.2f", rate, m.config.FailureRateHigh),
				SuggestedAction: "reduce load and review recent failures",
			})
		} else if rate > m.config.FailureRateMedium {
			issues = append(issues, model.Issue{
				Type:            model.IssuePerformance,
				Severity:        model.SeverityMedium,
				Description:     fmt.Sprintf("failure rate %.2f exceeds %.2f", rate, m.config.FailureRateMedium),
				SuggestedAction: "review recent failures",
			})
		}
	}

	if responseSamples > 0 {
		avg := responseTotal / time.Duration(responseSamples)
		if avg > m.config.ResponseTimeHigh {
			issues = append(issues, model.Issue{
				Type:            model.IssuePerformance,
				Severity:        model.SeverityHigh,
				Description:     fmt.Sprintf("average response time %s exceeds %s", avg, m.config.ResponseTimeHigh),
				SuggestedAction: "investigate slow operations",
			})
		} else if avg > m.config.ResponseTimeMedium {
			issues = append(issues, model.Issue{
				Type:            model.IssuePerformance,
				Severity:        model.SeverityMedium,
				Description:     fmt.Sprintf("average response time %s exceeds %s", avg, m.config.ResponseTimeMedium),
				SuggestedAction: "watch for slow operations",
			})
		}
	}

	return issues
}

func (m *SelfMonitor) communicationIssues(window []*model.MemoryEntry, tasks []*model.Task, agentID string, now time.Time) []model.Issue {
	var issues []model.Issue

	// A message counts as unread when it arrived after the agent's
	// last recorded action.
	var lastAction time.Time
	for _, e := range window {
		if e.Type == model.MemoryAction && e.Timestamp.After(lastAction) {
			lastAction = e.Timestamp
		}
	}
	unread := 0
	for _, t := range tasks {
		for _, c := range t.Communications {
			if c.To == agentID && c.SentAt.After(lastAction) {
				unread++
			}
		}
	}
	if unread > m.config.UnreadHigh {
		issues = append(issues, model.Issue{
			Type:            model.IssueCommunication,
			Severity:        model.SeverityHigh,
			Description:     fmt.Sprintf("%d unread messages", unread),
			SuggestedAction: "triage inbound messages",
		})
	} else if unread > m.config.UnreadMedium {
		issues = append(issues, model.Issue{
			Type:            model.IssueCommunication,
			Severity:        model.SeverityMedium,
			Description:     fmt.Sprintf("%d unread messages", unread),
			SuggestedAction: "catch up on inbound messages",
		})
	}

	failedComms := 0
	for _, e := range window {
		if e.Type == model.MemoryEvent && e.DetailString("kind") == "communication_failure" {
			failedComms++
		}
	}
	if failedComms > m.config.FailedCommsMedium {
		issues = append(issues, model.Issue{
			Type:            model.IssueCommunication,
			Severity:        model.SeverityMedium,
			Description:     fmt.Sprintf("%d failed communications recently", failedComms),
			SuggestedAction: "check messaging connectivity",
		})
	}

	return issues
}

func (m *SelfMonitor) logicIssues(window []*model.MemoryEntry, now time.Time) []model.Issue {
	var issues []model.Issue

	recentActions := 0
	descriptions := make(map[string]int)
	for _, e := range window {
		if e.Type != model.MemoryAction {
			continue
		}
		if now.Sub(e.Timestamp) <= m.config.StuckWindow {
			recentActions++
		}
		descriptions[e.Content]++
	}

	if recentActions == 0 {
		issues = append(issues, model.Issue{
			Type:            model.IssueLogic,
			Severity:        model.SeverityHigh,
			Description:     fmt.Sprintf("no actions in the last %s, possibly stuck", m.config.StuckWindow),
			SuggestedAction: "reassign active work or restart the agent",
		})
	}

	for desc, count := range descriptions {
		if count > m.config.LoopRepeats {
			issues = append(issues, model.Issue{
				Type:            model.IssueLogic,
				Severity:        model.SeverityMedium,
				Description:     fmt.Sprintf("action repeated %d times, possible loop: %s", count, truncate(desc, 80)),
				SuggestedAction: "break the repetition with a strategy change",
			})
		}
	}

	return issues
}

func (m *SelfMonitor) resourceIssues(tasks []*model.Task, ledgerSize int) []model.Issue {
	var issues []model.Issue

	active := 0
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			active++
		}
	}
	if active > m.config.ActiveTasksHigh {
		issues = append(issues, model.Issue{
			Type:            model.IssueResource,
			Severity:        model.SeverityHigh,
			Description:     fmt.Sprintf("%d active tasks", active),
			SuggestedAction: "shed tasks to other agents",
		})
	} else if active > m.config.ActiveTasksMedium {
		issues = append(issues, model.Issue{
			Type:            model.IssueResource,
			Severity:        model.SeverityMedium,
			Description:     fmt.Sprintf("%d active tasks", active),
			SuggestedAction: "avoid new assignments",
		})
	}

	if ledgerSize > m.config.LedgerSizeLow {
		issues = append(issues, model.Issue{
			Type:            model.IssueResource,
			Severity:        model.SeverityLow,
			Description:     fmt.Sprintf("memory ledger holds %d entries", ledgerSize),
			SuggestedAction: "schedule a ledger cleanup",
		})
	}

	return issues
}

// deriveStatus folds the issue list into the overall classification
func deriveStatus(issues []model.Issue) model.HealthStatus {
	for _, issue := range issues {
		if issue.Severity == model.SeverityCritical {
			return model.HealthStatusCritical
		}
	}
	for _, issue := range issues {
		if issue.Type == model.IssueLogic && issue.Severity == model.SeverityHigh {
			return model.HealthStatusStuck
		}
	}
	if len(issues) > 0 {
		return model.HealthStatusDegraded
	}
	return model.HealthStatusHealthy
}

// alertSupervisors sends a high-priority, response-required message to
// every supervisory agent
func (m *SelfMonitor) alertSupervisors(ctx context.Context, agents []*model.Agent, subject *model.Agent, check *model.HealthCheck) {
	for _, agent := range agents {
		if !agent.Role.IsSupervisory() {
			continue
		}
		if err := m.notifier.Raise(ctx, agent.ID, model.SeverityCritical,
			fmt.Sprintf("agent %s is in critical health", subject.Name),
			map[string]interface{}{
				"subject_agent_id": subject.ID,
				"issue_count":      len(check.Issues),
				"require_response": true,
			}); err != nil {
			m.logger.Error("Failed to alert supervisor",
				zap.String("supervisor_id", agent.ID),
				zap.Error(err))
		}
	}
}

// computeMetrics refreshes the rolling performance metrics for an agent
func (m *SelfMonitor) computeMetrics(ctx context.Context, agent *model.Agent, hostCPU, hostMem float64) (*model.PerformanceMetrics, error) {
	now := m.now()
	window, err := m.memoryWindow(ctx, agent.ID, now)
	if err != nil {
		return nil, err
	}
	tasks, err := m.tasks.GetByAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent tasks: %w", err)
	}

	actions, failures, messages := 0, 0, 0
	for _, e := range window {
		switch e.Type {
		case model.MemoryAction:
			actions++
			if isFailureEntry(e) {
				failures++
			}
		}
	}
	var completionTotal time.Duration
	completionSamples := 0
	for _, t := range tasks {
		messages += len(t.Communications)
		if t.Status == model.TaskStatusCompleted && t.CompletedAt != nil {
			completionTotal += t.CompletedAt.Sub(t.CreatedAt)
			completionSamples++
		}
	}

	learning, err := m.ledger.Query(ctx, agent.ID, memory.Filter{
		Type:  model.MemoryLearning,
		Since: now.Add(-m.config.LearningWindow),
	})
	if err != nil {
		return nil, err
	}
	strategies, err := m.ledger.Query(ctx, agent.ID, memory.Filter{
		Type:  model.MemoryStrategy,
		Since: now.Add(-m.config.LearningWindow),
	})
	if err != nil {
		return nil, err
	}

	metrics := &model.PerformanceMetrics{
		AgentID:           agent.ID,
		HostCPUPercent:    hostCPU,
		HostMemoryPercent: hostMem,
		CollectedAt:       now,
	}
	if actions > 0 {
		metrics.SuccessRate = float64(actions-failures) / float64(actions)
	}
	if completionSamples > 0 {
		metrics.AvgCompletionTime = (completionTotal / time.Duration(completionSamples)).Seconds()
	}
	metrics.CollaborationScore = clamp01(float64(messages) / 20)
	metrics.LearningRate = clamp01(float64(len(learning)) / 10)
	metrics.AdaptabilityScore = clamp01(float64(len(strategies)) / 5)

	return metrics, nil
}

// hostUsage samples host CPU and memory. Failures degrade to zero
// values rather than failing the cycle.
func (m *SelfMonitor) hostUsage() (float64, float64) {
	var cpuPct, memPct float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	} else if err != nil {
		m.logger.Debug("Failed to sample CPU", zap.Error(err))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	} else {
		m.logger.Debug("Failed to sample memory", zap.Error(err))
	}
	return cpuPct, memPct
}

func isFailureEntry(e *model.MemoryEntry) bool {
	if e.DetailString("result") == "failure" {
		return true
	}
	c := strings.ToLower(e.Content)
	return strings.Contains(c, "fail") || strings.Contains(c, "error")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

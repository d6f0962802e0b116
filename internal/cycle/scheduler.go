// Package cycle 实现每日循环：运行到期的 worker、刷新摘要、
// 生成协调者简报并把结果送往消息总线与文档库。
package cycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/bus"
	"github.com/mrg275/proof2pay-agents/internal/dispatch"
	"github.com/mrg275/proof2pay-agents/internal/docstore"
	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

const (
	// 运行摘要的目标长度上限。
	summaryCharLimit = 3000
	// 知识索引中每个 worker 摘要的预览长度。
	previewCharLimit = 500

	briefingTask = "Review today's findings across all agents, synthesize the key developments, " +
		"flag anything that needs attention, and delegate follow-up tasks where warranted."
)

// Scheduler 驱动每日循环。lastRun 是进程内共享可变状态，互斥保护，
// 设计假定同一时刻至多一次循环在执行。
type Scheduler struct {
	runner       *runner.Runner
	coordinator  *dispatch.Coordinator
	store        memory.Store
	roster       *roster.Roster
	summarizer   llm.Client
	summaryModel string
	bus          bus.Bus
	busChannel   string
	docs         docstore.Client

	mu      sync.Mutex
	lastRun map[string]time.Time
	now     func() time.Time
}

// Options 配置调度器。Bus 与 Docs 可以为 nil，对应步骤被跳过。
type Options struct {
	Runner       *runner.Runner
	Coordinator  *dispatch.Coordinator
	Store        memory.Store
	Roster       *roster.Roster
	Summarizer   llm.Client
	SummaryModel string
	Bus          bus.Bus
	BusChannel   string
	Docs         docstore.Client
}

// NewScheduler 创建调度器。
func NewScheduler(opts Options) *Scheduler {
	return &Scheduler{
		runner:       opts.Runner,
		coordinator:  opts.Coordinator,
		store:        opts.Store,
		roster:       opts.Roster,
		summarizer:   opts.Summarizer,
		summaryModel: opts.SummaryModel,
		bus:          opts.Bus,
		busChannel:   opts.BusChannel,
		docs:         opts.Docs,
		lastRun:      make(map[string]time.Time),
		now:          time.Now,
	}
}

// RunDailyCycle 执行一次完整的每日循环。单个 worker 的失败被记录并跳过，
// 不影响其余 worker、简报与知识索引。
func (s *Scheduler) RunDailyCycle(ctx context.Context) error {
	logger.Audit().Info("每日循环开始")

	for _, id := range s.roster.IDs() {
		worker, _ := s.roster.Get(id)
		if id == roster.CoordinatorID || worker.DefaultTask == "" {
			continue
		}
		if !s.due(worker) {
			logger.L().Debug("worker 未到期，跳过", "worker", id)
			continue
		}
		if err := s.runWorker(ctx, worker); err != nil {
			logger.L().Error("worker 定时任务失败", "worker", id, "error", err)
			continue
		}
		s.markRun(id)
	}

	if err := s.runBriefing(ctx); err != nil {
		logger.L().Error("简报生成失败", "error", err)
	}

	s.rebuildKnowledgeIndex(ctx)
	logger.Audit().Info("每日循环结束")
	return nil
}

// due 判断 worker 是否到期。从未运行过的 worker 视为到期。
func (s *Scheduler) due(worker roster.Worker) bool {
	days := worker.Schedule.Days()
	if days <= 0 {
		return false
	}
	s.mu.Lock()
	last, ok := s.lastRun[worker.ID]
	s.mu.Unlock()
	if !ok {
		return true
	}
	return s.now().Sub(last) >= time.Duration(days)*24*time.Hour
}

func (s *Scheduler) markRun(workerID string) {
	s.mu.Lock()
	s.lastRun[workerID] = s.now()
	s.mu.Unlock()
}

// LastRun 返回 worker 最近一次定时运行的时间。
func (s *Scheduler) LastRun(workerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[workerID]
	return last, ok
}

func (s *Scheduler) runWorker(ctx context.Context, worker roster.Worker) error {
	result, err := s.runner.Run(ctx, runner.Request{
		WorkerID: worker.ID,
		Task:     worker.DefaultTask,
	})
	if err != nil {
		return err
	}
	return s.refreshSummary(ctx, worker.ID, result.Text)
}

// refreshSummary 用低成本模型把（旧摘要，最新产出）压缩成新的运行摘要。
func (s *Scheduler) refreshSummary(ctx context.Context, workerID, latestOutput string) error {
	previous, err := s.store.GetSummary(ctx, workerID)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf(
		"Update this agent's running summary. Keep it under %d characters, keep durable facts, "+
			"drop stale detail.\n\nPrevious summary:\n%s\n\nLatest output:\n%s",
		summaryCharLimit, orPlaceholder(previous), latestOutput)

	result, err := s.summarizer.Complete(ctx, llm.Request{
		System:   "You maintain concise running summaries for research agents.",
		Messages: []llm.Message{{Role: llm.RoleUser, Text: prompt}},
		Model:    s.summaryModel,
	})
	if err != nil {
		return err
	}

	summary := result.Text
	if len(summary) > summaryCharLimit {
		summary = summary[:summaryCharLimit]
	}
	return s.store.UpdateSummary(ctx, workerID, summary)
}

func (s *Scheduler) runBriefing(ctx context.Context) error {
	result, err := s.coordinator.Briefing(ctx, briefingTask)
	if err != nil {
		return err
	}
	if s.bus != nil && s.busChannel != "" && result.Text != "" {
		if err := s.bus.PostMessage(ctx, s.busChannel, result.Text, ""); err != nil {
			logger.L().Warn("简报投递到总线失败", "error", err)
		}
	}
	return nil
}

// rebuildKnowledgeIndex 把全部摘要的预览拼成索引文档推送到文档库。
func (s *Scheduler) rebuildKnowledgeIndex(ctx context.Context) {
	if s.docs == nil {
		return
	}
	all, err := s.store.AllSummaries(ctx)
	if err != nil {
		logger.L().Warn("读取摘要构建知识索引失败", "error", err)
		return
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Agent Knowledge Index\n\nUpdated %s\n", s.now().UTC().Format("2006-01-02 15:04 UTC"))
	for _, id := range ids {
		preview := all[id]
		if len(preview) > previewCharLimit {
			preview = preview[:previewCharLimit] + "..."
		}
		fmt.Fprintf(&sb, "\n## %s\n\n%s\n", id, preview)
	}
	docstore.UpdateKnowledgeIndex(ctx, s.docs, sb.String())
}

func orPlaceholder(text string) string {
	if strings.TrimSpace(text) == "" {
		return "(none)"
	}
	return text
}

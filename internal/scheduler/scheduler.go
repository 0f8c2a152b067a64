package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"YieldRouter/internal/config"
	"YieldRouter/internal/model"
	"YieldRouter/internal/notifier"
	"YieldRouter/internal/oracle"
	"YieldRouter/internal/rebalancing"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Options selects what the automation does on its own.
type Options struct {
	Pairs                    []config.Pair
	Operator                 string
	RequireFreshDistribution bool
}

// Scheduler manages all cron tasks and operator commands.
type Scheduler struct {
	Cron     *cron.Cron
	Machine  *rebalancing.Machine
	Oracle   *oracle.Oracle
	Notifier notifier.Sender
	Ctx      context.Context

	opts   Options
	logger *zap.Logger

	mu sync.Mutex
	// failedAt remembers the cursor of the last reported failure per pair so a stuck
	// step is announced once rather than on every tick.
	failedAt map[config.Pair]int
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, m *rebalancing.Machine, o *oracle.Oracle, n notifier.Sender, opts Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Machine:  m,
		Oracle:   o,
		Notifier: n,
		Ctx:      ctx,
		opts:     opts,
		logger:   logger,
		failedAt: map[config.Pair]int{},
	}
}

// RegisterAll registers the advance, start, and income tasks.
func (s *Scheduler) RegisterAll(advanceCron, startCron, incomeCron string) error {
	if _, err := s.Cron.AddFunc(advanceCron, s.advanceTask); err != nil {
		return fmt.Errorf("register advance task: %w", err)
	}
	if _, err := s.Cron.AddFunc(startCron, s.startTask); err != nil {
		return fmt.Errorf("register start task: %w", err)
	}
	if _, err := s.Cron.AddFunc(incomeCron, s.incomeTask); err != nil {
		return fmt.Errorf("register income task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started", zap.Int("pairs", len(s.opts.Pairs)))
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow plans and drives every pair immediately (for RUN_ON_START).
func (s *Scheduler) RunNow() {
	s.startTask()
	s.advanceTask()
}

func (s *Scheduler) startTask() {
	for _, p := range s.opts.Pairs {
		s.startPair(p)
	}
}

func (s *Scheduler) startPair(p config.Pair) (*model.RebalancingRecord, error) {
	rec, err := s.Machine.Start(s.Ctx, rebalancing.StartRequest{
		Pool:                     p.Pool,
		Asset:                    p.Asset,
		RequireFreshDistribution: s.opts.RequireFreshDistribution,
	})
	switch {
	case errors.Is(err, model.ErrAlreadyInProgress), errors.Is(err, model.ErrDistributionStale):
		s.logger.Debug("start skipped", zap.String("pool", p.Pool), zap.String("asset", p.Asset), zap.Error(err))
		return nil, err
	case err != nil:
		s.logger.Error("start rebalancing", zap.String("pool", p.Pool), zap.String("asset", p.Asset), zap.Error(err))
		s.trySend(fmt.Sprintf("❌ <b>Rebalancing start failed</b> | %s/%s\n\n%v", p.Pool, p.Asset, err))
		return nil, err
	}
	if len(rec.Steps) > 0 {
		s.trySend(notifier.FormatCycleStarted(rec))
	}
	return rec, nil
}

func (s *Scheduler) advanceTask() {
	for _, p := range s.opts.Pairs {
		s.drivePair(p)
	}
}

// drivePair executes remaining steps of the pair until the cycle completes or a step fails.
func (s *Scheduler) drivePair(p config.Pair) (*model.RebalancingRecord, error) {
	var rec *model.RebalancingRecord
	for {
		st, err := s.Machine.Status(s.Ctx, p.Pool, p.Asset)
		if err != nil {
			s.logger.Error("load status", zap.String("pool", p.Pool), zap.String("asset", p.Asset), zap.Error(err))
			return rec, err
		}
		if !st.Cycle.InProgress() {
			return st.Cycle, nil
		}
		cursor := st.Cycle.Cursor

		rec, err = s.Machine.AdvanceAt(s.Ctx, p.Pool, p.Asset, cursor)
		if errors.Is(err, model.ErrOutOfOrderExecution) {
			// Another driver took the step; re-read and continue.
			continue
		}
		if err != nil {
			s.reportFailure(p, cursor, err)
			return st.Cycle, err
		}
		s.clearFailure(p)
		if rec.State == model.CycleComplete {
			s.trySend(notifier.FormatCycleComplete(rec))
			return rec, nil
		}
	}
}

func (s *Scheduler) reportFailure(p config.Pair, cursor int, err error) {
	s.mu.Lock()
	last, seen := s.failedAt[p]
	s.failedAt[p] = cursor
	s.mu.Unlock()

	s.logger.Warn("advance failed, will retry", zap.String("pool", p.Pool), zap.String("asset", p.Asset),
		zap.Int("cursor", cursor), zap.Error(err))
	if !seen || last != cursor {
		s.trySend(notifier.FormatStepFailure(p.Pool, p.Asset, err))
	}
}

func (s *Scheduler) clearFailure(p config.Pair) {
	s.mu.Lock()
	delete(s.failedAt, p)
	s.mu.Unlock()
}

func (s *Scheduler) incomeTask() {
	for _, p := range s.opts.Pairs {
		accrued, err := s.Machine.RefreshIncome(s.Ctx, p.Pool, p.Asset)
		switch {
		case errors.Is(err, model.ErrIncomeRefreshed), errors.Is(err, model.ErrAlreadyInProgress):
			continue
		case err != nil:
			s.logger.Error("refresh income", zap.String("pool", p.Pool), zap.String("asset", p.Asset), zap.Error(err))
			continue
		}
		for _, a := range accrued {
			if a > 0 {
				s.trySend(notifier.FormatIncome(p.Pool, p.Asset, accrued))
				break
			}
		}
	}
}

const helpText = "Available commands:\n" +
	"• /status [pool asset]\n" +
	"• /start [pool asset]\n" +
	"• /advance [pool asset]\n" +
	"• /income [pool asset]\n" +
	"• /history [pool asset] [n]\n" +
	"• /distribution [asset]\n" +
	"• /reset pool asset"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	args := fields[1:]

	switch fields[0] {
	case "/status":
		p, ok := s.pairFromArgs(args)
		if !ok {
			return helpText
		}
		st, err := s.Machine.Status(ctx, p.Pool, p.Asset)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatStatus(p.Pool, p.Asset, st.Cycle, st.Allocations)
	case "/start":
		p, ok := s.pairFromArgs(args)
		if !ok {
			return helpText
		}
		rec, err := s.startPair(p)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		if len(rec.Steps) == 0 {
			return notifier.FormatCycleStarted(rec)
		}
		return "" // plan already announced
	case "/advance":
		p, ok := s.pairFromArgs(args)
		if !ok {
			return helpText
		}
		rec, err := s.Machine.Advance(ctx, p.Pool, p.Asset)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		if rec.State == model.CycleComplete {
			return notifier.FormatCycleComplete(rec)
		}
		return fmt.Sprintf("➡️ %s/%s step %d/%d done", p.Pool, p.Asset, rec.Cursor, len(rec.Steps))
	case "/income":
		p, ok := s.pairFromArgs(args)
		if !ok {
			return helpText
		}
		accrued, err := s.Machine.RefreshIncome(ctx, p.Pool, p.Asset)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatIncome(p.Pool, p.Asset, accrued)
	case "/history":
		limit := 5
		if len(args) == 3 || len(args) == 1 {
			if n, err := strconv.Atoi(args[len(args)-1]); err == nil && n > 0 {
				limit = n
				args = args[:len(args)-1]
			}
		}
		p, ok := s.pairFromArgs(args)
		if !ok {
			return helpText
		}
		recs, err := s.Machine.History(ctx, p.Pool, p.Asset, limit)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatHistory(p.Pool, p.Asset, recs)
	case "/distribution":
		asset := ""
		if len(args) > 0 {
			asset = args[0]
		} else if len(s.opts.Pairs) > 0 {
			asset = s.opts.Pairs[0].Asset
		}
		rec, err := s.Oracle.Distribution(ctx, asset)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatDistribution(rec)
	case "/reset":
		// Destructive: the pair must be named explicitly.
		if len(args) != 2 {
			return helpText
		}
		rec, err := s.Machine.Reset(ctx, args[0], args[1], s.opts.Operator)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatCycleComplete(rec)
	default:
		return helpText
	}
}

// pairFromArgs resolves "pool asset" or falls back to the first configured pair.
func (s *Scheduler) pairFromArgs(args []string) (config.Pair, bool) {
	switch {
	case len(args) == 2:
		return config.Pair{Pool: args[0], Asset: args[1]}, true
	case len(args) == 0 && len(s.opts.Pairs) > 0:
		return s.opts.Pairs[0], true
	default:
		return config.Pair{}, false
	}
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.logger.Error("send notification", zap.Error(err))
	}
}

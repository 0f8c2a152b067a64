package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"YieldRouter/internal/adapter"
	"YieldRouter/internal/calculator"
	"YieldRouter/internal/config"
	"YieldRouter/internal/custody"
	"YieldRouter/internal/lock"
	"YieldRouter/internal/logging"
	"YieldRouter/internal/model"
	"YieldRouter/internal/notifier"
	"YieldRouter/internal/oracle"
	"YieldRouter/internal/rebalancing"
	"YieldRouter/internal/recorder"
	"YieldRouter/internal/registry"
	"YieldRouter/internal/scheduler"
	"YieldRouter/internal/store"

	"github.com/IBM/sarama"
	"github.com/oklog/run"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config validation", zap.Error(err))
	}
	logger.Info("YieldRouter starting", zap.String("config", cfgPath))

	if err := runRouter(cfg, logger); err != nil {
		var sig run.SignalError
		if errors.As(err, &sig) {
			logger.Info("shutdown signal received", zap.String("signal", sig.Signal.String()))
		} else {
			logger.Fatal("router stopped", zap.Error(err))
		}
	}
	logger.Info("YieldRouter stopped")
}

func runRouter(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	// Custody ledger + simulated markets
	if err := ensureDir(cfg.Custody.StateFile); err != nil {
		return err
	}
	ledger, err := custody.NewLedger(cfg.Custody.StateFile)
	if err != nil {
		return err
	}
	if ledger.Empty() {
		if err := seedLedger(ctx, ledger, cfg.Custody.Seed); err != nil {
			return err
		}
		logger.Info("custody ledger seeded", zap.Int("accounts", len(cfg.Custody.Seed)))
	}
	markets := map[string]adapter.Market{}
	for _, d := range reg.Destinations() {
		markets[d.ProgramID] = adapter.NewSimMarket("reserve:"+d.ProgramID, ledger)
	}
	adapters, err := adapter.NewSet(reg, markets)
	if err != nil {
		return err
	}

	// Store
	if err := ensureDir(cfg.Database.SQLitePath); err != nil {
		return err
	}
	st, err := store.NewSQLiteStore(cfg.Database.SQLitePath, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	// Recorder
	rec := buildRecorder(cfg, logger)
	defer rec.Close()

	// Locker
	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		rl, err := lock.NewRedisLocker(ctx, client, lock.DefaultOptions(), logger)
		if err != nil {
			return fmt.Errorf("init redis lock: %w", err)
		}
		locker = rl
		logger.Info("using redis lock", zap.String("addr", cfg.Redis.Addr))
	}

	// Oracle
	orc := oracle.New(reg.Len(), st, locker, rec, logger)
	if err := bootstrapOracle(ctx, orc, cfg); err != nil {
		return err
	}

	machine := rebalancing.New(rebalancing.Deps{
		Registry: reg,
		Oracle:   orc,
		Adapters: adapters,
		Custody:  ledger,
		Store:    st,
		Locker:   locker,
		Recorder: rec,
		Logger:   logger,
	}, rebalancing.Config{
		CapMode:         calculator.CapMode(cfg.Rebalancing.CapMode),
		RefreshInterval: cfg.Rebalancing.RefreshInterval,
	})

	// Notifier
	var sender notifier.Sender = notifier.NewLogNotifier(logger)
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		sender = tn
	}

	sched := scheduler.NewScheduler(ctx, machine, orc, sender, scheduler.Options{
		Pairs:                    cfg.Rebalancing.Pairs,
		Operator:                 cfg.Rebalancing.Operator,
		RequireFreshDistribution: cfg.Rebalancing.RequireFreshDistribution,
	}, logger)
	if err := sched.RegisterAll(cfg.Schedule.AdvanceCron, cfg.Schedule.StartCron, cfg.Schedule.IncomeCron); err != nil {
		return err
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		schedCtx, schedCancel := context.WithCancel(ctx)
		g.Add(func() error {
			sched.Start()
			if os.Getenv("RUN_ON_START") == "true" {
				logger.Info("RUN_ON_START enabled, rebalancing now")
				go sched.RunNow()
			}
			<-schedCtx.Done()
			return nil
		}, func(error) {
			schedCancel()
			sched.Stop()
		})
	}
	if tn != nil {
		pollCtx, pollCancel := context.WithCancel(ctx)
		g.Add(func() error {
			logger.Info("telegram polling started")
			tn.StartPolling(pollCtx, sched.HandleCommand)
			return nil
		}, func(error) {
			pollCancel()
		})
	}

	logger.Info("YieldRouter is running", zap.Int("destinations", reg.Len()), zap.Int("pairs", len(cfg.Rebalancing.Pairs)))
	err = g.Run()
	cancel()
	return err
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	dests := make([]registry.Destination, len(cfg.Destinations))
	for i, d := range cfg.Destinations {
		dests[i] = registry.Destination{Index: d.Index, ProgramID: d.ProgramID, Kind: d.Kind, Cap: d.Cap}
	}
	reg, err := registry.New(dests, cfg.Managers)
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	return reg, nil
}

func buildRecorder(cfg *config.Config, logger *zap.Logger) recorder.Recorder {
	var sinks []recorder.Recorder
	if cfg.Database.HistoryPath != "" {
		if err := ensureDir(cfg.Database.HistoryPath); err != nil {
			logger.Warn("history dir unavailable", zap.Error(err))
		} else if sr, err := recorder.NewSQLiteRecorder(cfg.Database.HistoryPath, logger); err != nil {
			logger.Warn("init sqlite recorder failed, skipping", zap.Error(err))
		} else {
			sinks = append(sinks, sr)
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sc := sarama.NewConfig()
		sc.Producer.Return.Successes = true
		sc.Producer.RequiredAcks = sarama.WaitForAll
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, sc)
		if err != nil {
			logger.Warn("init kafka producer failed, skipping", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		} else {
			sinks = append(sinks, recorder.NewKafkaRecorder(producer, cfg.Kafka.Topic))
			logger.Info("publishing events to kafka", zap.String("topic", cfg.Kafka.Topic))
		}
	}
	if len(sinks) == 0 {
		return recorder.NewNoopRecorder()
	}
	return recorder.NewMultiRecorder(sinks...)
}

func seedLedger(ctx context.Context, ledger *custody.Ledger, seed map[string]map[string]uint64) error {
	for account, assets := range seed {
		for asset, amount := range assets {
			if err := ledger.Mint(ctx, account, asset, amount); err != nil {
				return fmt.Errorf("seed %s/%s: %w", account, asset, err)
			}
		}
	}
	return nil
}

// bootstrapOracle initializes configured assets and publishes their first distribution.
// Assets already published keep their stored distribution.
func bootstrapOracle(ctx context.Context, orc *oracle.Oracle, cfg *config.Config) error {
	for asset, shares := range cfg.Oracle.Distributions {
		err := orc.Init(ctx, asset, cfg.Oracle.Authority)
		if err != nil && !errors.Is(err, model.ErrAlreadyInitialized) {
			return err
		}
		rec, err := orc.Distribution(ctx, asset)
		if err != nil {
			return err
		}
		if rec.Sequence > 0 {
			continue
		}
		if err := orc.SetDistribution(ctx, asset, cfg.Oracle.Authority, shares); err != nil {
			return fmt.Errorf("bootstrap distribution of %s: %w", asset, err)
		}
	}
	return nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Package app 负责从配置装配整个运行时，供守护进程与 CLI 共用。
package app

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/mrg275/proof2pay-agents/internal/bus"
	"github.com/mrg275/proof2pay-agents/internal/config"
	"github.com/mrg275/proof2pay-agents/internal/cycle"
	"github.com/mrg275/proof2pay-agents/internal/dispatch"
	"github.com/mrg275/proof2pay-agents/internal/docs"
	"github.com/mrg275/proof2pay-agents/internal/docstore"
	"github.com/mrg275/proof2pay-agents/internal/integrations/brave"
	"github.com/mrg275/proof2pay-agents/internal/integrations/github"
	"github.com/mrg275/proof2pay-agents/internal/llm"
	"github.com/mrg275/proof2pay-agents/internal/llm/anthropic"
	"github.com/mrg275/proof2pay-agents/internal/memory"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/internal/runner"
	"github.com/mrg275/proof2pay-agents/internal/tools"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// App 持有装配完成的全部组件。
type App struct {
	Config      *config.Config
	Roster      *roster.Roster
	Store       memory.Store
	Runner      *runner.Runner
	Coordinator *dispatch.Coordinator
	Scheduler   *cycle.Scheduler
	Bus         bus.Bus
	Usage       *llm.UsageTracker

	closers []func() error
}

// New 按配置装配运行时。
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
			MaxAgeDays: cfg.Logger.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, err
	}

	app := &App{Config: cfg}

	apiKey := strings.TrimSpace(cfg.APIKey())
	if apiKey == "" {
		return nil, errors.New("缺少补全服务密钥，请设置 " + cfg.LLM.APIKeyEnv)
	}
	client, err := anthropic.NewClient(anthropic.Config{
		APIKey:    apiKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.DefaultModel,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	app.Usage = llm.NewUsageTracker(llm.WithRetry(client, cfg.LLM.RetryAttempts, time.Second))

	store, err := memory.NewFromConfig(cfg.Memory)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store.Close)

	var docStore docstore.Client
	if cfg.Integrations.DocStore.Enabled {
		local, err := docstore.NewLocalClient(cfg.Integrations.DocStore.Dir)
		if err != nil {
			return nil, err
		}
		docStore = local
		store = memory.NewMirrorStore(store, local, "outputs")
	}
	app.Store = store

	workerRoster, err := roster.New(cfg)
	if err != nil {
		return nil, err
	}
	app.Roster = workerRoster

	assembler := runner.NewAssembler(workerRoster, store, docs.NewProvider(cfg.Docs.Dir))
	app.Runner = runner.New(runner.Options{
		Roster:       workerRoster,
		Store:        store,
		Assembler:    assembler,
		Tools:        tools.NewHandler(buildGitHub(cfg), buildSearch(cfg)),
		Client:       app.Usage,
		DefaultModel: cfg.LLM.DefaultModel,
	})

	app.Coordinator = dispatch.NewCoordinator(dispatch.Options{
		Runner:    app.Runner,
		Assembler: assembler,
		Roster:    workerRoster,
		Store:     store,
		Budget:    dispatch.NewBudget(cfg.Budget.TokenLimit, cfg.Budget.DispatchLimit),
		Client:    app.Usage,
	})

	if cfg.Bus.Enabled {
		amqpBus, err := bus.NewAMQPBus(bus.AMQPConfig{
			URL:           cfg.Bus.URL,
			OutboundQueue: cfg.Bus.OutboundQueue,
			InboundQueue:  cfg.Bus.InboundQueue,
		})
		if err != nil {
			return nil, err
		}
		app.Bus = amqpBus
		app.closers = append(app.closers, amqpBus.Close)
	}

	app.Scheduler = cycle.NewScheduler(cycle.Options{
		Runner:       app.Runner,
		Coordinator:  app.Coordinator,
		Store:        store,
		Roster:       workerRoster,
		Summarizer:   app.Usage,
		SummaryModel: cfg.Models.Haiku,
		Bus:          app.Bus,
		BusChannel:   cfg.Bus.BriefingChannel,
		Docs:         docStore,
	})

	return app, nil
}

func buildGitHub(cfg *config.Config) *github.Client {
	gh := cfg.Integrations.GitHub
	token := strings.TrimSpace(os.Getenv(gh.Token))
	if token == "" || gh.Owner == "" || gh.Repo == "" {
		return nil
	}
	client, err := github.NewClient(github.Config{Token: token, Owner: gh.Owner, Repo: gh.Repo})
	if err != nil {
		logger.L().Warn("GitHub 集成初始化失败", "error", err)
		return nil
	}
	return client
}

func buildSearch(cfg *config.Config) *brave.Client {
	apiKey := strings.TrimSpace(os.Getenv(cfg.Integrations.Search.APIKeyEnv))
	if apiKey == "" {
		return nil
	}
	client, err := brave.NewClient(brave.Config{APIKey: apiKey})
	if err != nil {
		logger.L().Warn("搜索集成初始化失败", "error", err)
		return nil
	}
	return client
}

// Close 释放全部底层资源。
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	return errors.Join(err, logger.Sync())
}

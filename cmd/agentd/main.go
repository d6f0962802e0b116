package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mrg275/proof2pay-agents/internal/app"
	"github.com/mrg275/proof2pay-agents/internal/bus"
	"github.com/mrg275/proof2pay-agents/internal/roster"
	"github.com/mrg275/proof2pay-agents/pkg/logger"
)

// main 是代理运行时守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agents.yaml")
	}

	application, err := app.New(configPath)
	if err != nil {
		return err
	}
	defer application.Close()

	// 每日循环由 cron 触发。
	scheduler := cron.New()
	_, err = scheduler.AddFunc(application.Config.Briefing.CronSpec, func() {
		if err := application.Scheduler.RunDailyCycle(ctx); err != nil {
			logger.L().Error("每日循环失败", "error", err)
		}
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.L().Info("agentd 已启动",
		"workers", len(application.Roster.IDs()),
		"cron", application.Config.Briefing.CronSpec,
		"bus", application.Config.Bus.Enabled,
	)

	if application.Bus != nil {
		err := application.Bus.Listen(ctx, inboundHandler(application))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// inboundHandler 把入站消息路由到对应 worker 的交互循环并回帖应答。
// 未映射的频道一律交给协调者。
func inboundHandler(application *app.App) bus.Handler {
	return func(ctx context.Context, msg bus.InboundMessage) error {
		workerID := application.Config.Bus.ChannelWorkers[msg.Channel]
		if workerID == "" {
			workerID = roster.CoordinatorID
		}
		conversationID := msg.Thread
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		var (
			reply string
			err   error
		)
		if workerID == roster.CoordinatorID {
			reply, err = application.Coordinator.RunInteractive(ctx, conversationID, msg.Text)
		} else {
			reply, err = application.Runner.RunInteractive(ctx, workerID, conversationID, msg.Text)
		}
		if err != nil {
			logger.L().Error("交互处理失败", "worker", workerID, "error", err)
			reply = "Sorry, I hit an error handling that. Please try again."
		}
		return application.Bus.PostMessage(ctx, msg.Channel, reply, msg.Thread)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/marketplace-service/internal/biz"
	"xinyuan_tech/marketplace-service/internal/conf"
	"xinyuan_tech/marketplace-service/internal/constants"

	klog "github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

// CronApp Cron 应用结构
type CronApp struct {
	paymentUsecase *biz.PaymentUsecase
	escrowUsecase  *biz.EscrowUsecase
	locker         biz.Locker
}

// withLease 持分布式租约执行任务,多实例部署时同一轮只有一个实例执行
func (app *CronApp) withLease(ctx context.Context, name string, job func()) {
	unlock, err := app.locker.Lock(ctx, "cron_lock:"+name, constants.CronLockExpiration)
	if err != nil {
		log.Printf("[CRON] Job %s is held by another instance, skipping", name)
		return
	}
	defer unlock()
	job()
}

// newLogger 创建 logger
func newLogger() klog.Logger {
	return klog.With(klog.NewStdLogger(os.Stdout),
		"ts", klog.DefaultTimestamp,
		"caller", klog.DefaultCaller,
		"service.name", "marketplace-cron",
	)
}

func main() {
	flag.Parse()

	// 初始化配置
	bc, err := conf.Load(flagconf)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 初始化应用
	app, cleanup, err := wireApp(bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 1. 移动支付结果轮询 - 每 30 秒执行
	_, err = cronScheduler.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		app.withLease(ctx, "momo_poll", func() {
			count, err := app.paymentUsecase.PollPendingMobileMoney(ctx, time.Minute)
			if err != nil {
				log.Printf("[CRON] Error polling mobile money attempts: %v", err)
			} else if count > 0 {
				log.Printf("[CRON] Resolved %d mobile money attempts", count)
			}
		})
	})
	if err != nil {
		log.Printf("Failed to add mobile money poll job: %v", err)
	}

	// 2. 超时未决支付标记失败 - 每 5 分钟执行
	_, err = cronScheduler.AddFunc("0 */5 * * * *", func() {
		log.Println("[CRON] Starting stale payment attempt sweep...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		app.withLease(ctx, "stale_sweep", func() {
			count, err := app.paymentUsecase.ExpireStaleAttempts(ctx, constants.StaleAttemptTTL)
			if err != nil {
				log.Printf("[CRON] Error expiring stale attempts: %v", err)
			} else {
				log.Printf("[CRON] Expired %d stale payment attempts", count)
			}
		})
		log.Println("[CRON] Finished stale payment attempt sweep")
	})
	if err != nil {
		log.Printf("Failed to add stale attempt sweep job: %v", err)
	}

	// 3. 欠退款重试 - 每 10 分钟执行
	_, err = cronScheduler.AddFunc("0 */10 * * * *", func() {
		log.Println("[CRON] Starting pending refund retry...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		app.withLease(ctx, "refund_retry", func() {
			count, err := app.escrowUsecase.RetryPendingRefunds(ctx)
			if err != nil {
				log.Printf("[CRON] Error retrying pending refunds: %v", err)
			} else {
				log.Printf("[CRON] Completed %d pending refunds", count)
			}
		})
		log.Println("[CRON] Finished pending refund retry")
	})
	if err != nil {
		log.Printf("Failed to add refund retry job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Println("Scheduled jobs:")
	log.Println("  - Mobile money poll:    Every 30 seconds")
	log.Println("  - Stale attempt sweep:  Every 5 minutes")
	log.Println("  - Pending refund retry: Every 10 minutes")
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}

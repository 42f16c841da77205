package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"settlement/internal/config"
	"settlement/internal/handler"
	"settlement/internal/infrastructure/cache"
	"settlement/internal/infrastructure/database"
	"settlement/internal/infrastructure/lock"
	"settlement/internal/infrastructure/mq"
	"settlement/internal/job"
	"settlement/internal/repository"
	"settlement/internal/service"
	"settlement/pkg/idgen"
	"settlement/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	workerID := flag.Int64("worker-id", 1, "雪花算法机器号")
	flag.Parse()

	// 加载配置
	cfg := config.LoadConfig(*configPath)
	logger.Init(&cfg.Log)
	log := logger.Component("main")

	// 初始化 ID 生成器
	idgen.Init(*workerID)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("数据库迁移失败")
	}

	// 分布式锁：未启用 Redis 时退化为进程内锁，仅适用于单实例
	var locks lock.Factory
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(context.Background(), &cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("Redis 初始化失败")
		}
		defer client.Close()
		log.Info("Redis 连接成功")
		locks = lock.NewRedisFactory(client)
	} else {
		log.Warn("Redis 未启用，使用进程内锁")
		locks = lock.NewLocalFactory()
	}

	// 消息发布
	var publisher mq.Publisher = mq.LogPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewSyncProducer(&cfg.Kafka)
		if err != nil {
			log.WithError(err).Fatal("Kafka 生产者初始化失败")
		}
		kafkaPublisher := mq.NewKafkaPublisher(producer)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	// 服务
	ledger := service.NewLedgerService(db)
	settings := service.NewSettingsService(db, &cfg.Settlement)
	splitter := service.NewSplitService(db, locks, settings, ledger, cfg)
	orders := service.NewOrderService(db, repository.NewProductRepository(db), splitter)
	sweep := job.NewAvailabilitySweepJob(db, ledger, cfg)

	svc := &handler.Services{
		Orders:      orders,
		Splitter:    splitter,
		Payouts:     service.NewPayoutService(db, locks, settings, ledger, cfg),
		Fulfillment: service.NewFulfillmentService(db, cfg),
		Ledger:      ledger,
		Settings:    settings,
		Recon:       service.NewReconciliationService(db),
		Reports:     service.NewReportService(db, ledger),
		Sweep:       sweep,
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, cfg)
	go outboxSender.Start(ctx)

	compensateJob := job.NewSplitCompensateJob(db, splitter, cfg)
	go compensateJob.Start(ctx)

	if cfg.Jobs.SweepEnabled {
		go sweep.Start(ctx)
	}

	if cfg.Kafka.Enabled && cfg.Kafka.ConsumeEnable {
		group, err := mq.NewConsumerGroup(&cfg.Kafka)
		if err != nil {
			log.WithError(err).Fatal("Kafka 消费组初始化失败")
		}
		consumer := job.NewPaymentConsumer(group, orders, cfg)
		defer consumer.Close()
		go consumer.Start(ctx)
	}

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(svc), cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("服务关闭异常")
	}

	log.Info("服务已关闭")
}

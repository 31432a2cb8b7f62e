package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/lvdashuaibi/luckydraw/internal/api/graph"
	"github.com/lvdashuaibi/luckydraw/internal/api/web"
	"github.com/lvdashuaibi/luckydraw/internal/feed"
	"github.com/lvdashuaibi/luckydraw/internal/gate"
	intkafka "github.com/lvdashuaibi/luckydraw/internal/kafka"
	"github.com/lvdashuaibi/luckydraw/internal/lock"
	"github.com/lvdashuaibi/luckydraw/internal/ratelimit"
	"github.com/lvdashuaibi/luckydraw/internal/repository"
	"github.com/lvdashuaibi/luckydraw/internal/service"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/lvdashuaibi/luckydraw/internal/timer"
	"github.com/phuslu/log"
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	envFile    = flag.String("env", ".env", "环境变量文件，不存在时忽略")
	debug      = flag.Bool("debug", false, "调试模式")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载环境变量文件失败: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 文档存储
	var base store.Store
	switch cfg.Store.Driver {
	case "mysql":
		mysqlStore, err := repository.NewMySQLStore(cfg.MySQL)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化MySQL存储失败")
		}
		closers = append(closers, mysqlStore.Close)
		base = mysqlStore
		log.Info().Msg("MySQL存储初始化成功")
	default:
		base = store.NewMemoryStore()
		log.Warn().Msg("使用内存存储，重启后数据丢失")
	}

	// 票据、限流状态与授权缓存
	deps := service.Dependencies{
		Scheduler:  timer.RealScheduler{},
		Tickets:    ticket.NewMemoryStore(),
		RateLimits: ratelimit.NewMemoryStateStore(),
		AuthCache:  gate.NewMemoryAuthCache(),
	}
	if cfg.Redis.DataAddress != "" {
		redisRepo, err := repository.NewRedisRepository(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化Redis仓库失败")
		}
		closers = append(closers, func() { _ = redisRepo.Close() })
		deps.Tickets = redisRepo
		deps.RateLimits = redisRepo
		deps.AuthCache = redisRepo
		log.Info().Str("addr", cfg.Redis.DataAddress).Msg("Redis仓库初始化成功")
	}

	locker, err := newLocker(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化分布式锁失败")
	}
	closers = append(closers, func() {
		locker.ReleaseAllLocks()
		_ = locker.Close()
	})
	deps.Locker = locker

	// 变更推送：启用Kafka时经由Kafka广播给所有实例
	hub := feed.NewHub(base)
	deps.Hub = hub
	if cfg.Kafka.Enabled {
		producer, err := intkafka.NewProducer(cfg.Kafka, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化Kafka生产者失败")
		}
		closers = append(closers, func() { _ = producer.Close() })

		consumer, err := intkafka.NewConsumer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化Kafka消费者失败")
		}
		consumer.StartConsuming(hub.Notify)
		closers = append(closers, func() { _ = consumer.Stop() })

		deps.Store = store.Observe(base, producer)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka变更推送已启用")
	} else {
		deps.Store = store.Observe(base, hub)
	}

	svc := service.NewEventService(deps, service.OptionsFromConfig(cfg))
	if err := svc.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("启动活动服务失败")
	}
	closers = append(closers, svc.Dispose)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	server := web.NewServer(svc, graph.NewGraphQLServer(svc), web.Options{
		GraphQLPath:    cfg.GraphQL.Path,
		SessionKey:     cfg.Server.SessionKey,
		AllowAnyOrigin: *debug,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP服务器异常退出")
		}
	}()
	log.Info().Msgf("Lucky Draw 已启动，服务地址: http://localhost:%d", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("关闭HTTP服务器失败")
	}
}

func setupLogger(cfg config.LogConfig) {
	if log.IsTerminal(os.Stderr.Fd()) {
		log.DefaultLogger = log.Logger{
			Level:  log.ParseLevel(cfg.Level),
			Caller: 1,
			Writer: &log.ConsoleWriter{
				ColorOutput:    true,
				EndWithMessage: true,
			},
		}
		return
	}
	log.DefaultLogger = log.Logger{
		Level: log.ParseLevel(cfg.Level),
		Writer: &log.FileWriter{
			Filename:     cfg.File,
			MaxSize:      cfg.MaxSize,
			MaxBackups:   cfg.MaxBackups,
			LocalTime:    true,
			FileMode:     0o600,
			EnsureFolder: true,
		},
	}
}

func newLocker(cfg *config.Config) (lock.Lock, error) {
	switch cfg.Lock.Driver {
	case "etcd":
		return lock.NewETCDLock(cfg.ETCD)
	case "redis":
		return lock.NewRedLock(cfg.Redis, cfg.Lock.RetryCount)
	default:
		return lock.NewLocalLock(timer.RealScheduler{}), nil
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"AgentFlows/internal/api"
	"AgentFlows/internal/auth"
	"AgentFlows/internal/autogpt"
	"AgentFlows/internal/config"
	"AgentFlows/internal/flowcfg"
	"AgentFlows/internal/llm"
	"AgentFlows/internal/llm/openai"
	"AgentFlows/internal/llm/scriptbridge"
	"AgentFlows/internal/memory"
	"AgentFlows/internal/observability/alerting"
	"AgentFlows/internal/observability/metrics"
	"AgentFlows/internal/run"
	"AgentFlows/pkg/logger"
)

// main 是 AgentFlows 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agentflowd 运行失败: %v", err)
	}
}

func serve(ctx context.Context) error {
	configPath := os.Getenv("AGENTFLOWS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentflows.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	authService, err := buildAuthService(cfg.Auth)
	if err != nil {
		return err
	}

	backends, err := buildBackends(cfg.LLM)
	if err != nil {
		return err
	}

	memoryStore, err := buildMemoryStore(ctx, cfg.Memory)
	if err != nil {
		return err
	}
	if closer, ok := memoryStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	runStore, err := buildRunStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()

	runQueue, err := buildRunQueue(cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := runQueue.Close(); err != nil {
			logger.L().Warn("关闭运行队列失败", "error", err)
		}
	}()

	registry := flowcfg.NewRegistry()
	if err := autogpt.RegisterBuiltins(registry); err != nil {
		return err
	}

	flowConfigs, err := loadFlowConfigs(cfg.Flows.Dir)
	if err != nil {
		return err
	}

	launcher, err := run.NewFlowLauncher(run.LauncherConfig{
		Registry: registry,
		Deps: flowcfg.Dependencies{
			Registry:   registry,
			Backends:   backends,
			Memory:     memoryStore,
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		},
		Configs:       flowConfigs,
		DefaultFlow:   cfg.Flows.Default,
		BatchRetries:  cfg.Flows.BatchRetries,
		RetryInterval: time.Duration(cfg.Flows.RetryIntervalSeconds) * time.Second,
		RunTimeout:    time.Duration(cfg.Flows.RunTimeoutSeconds) * time.Second,
		MaxRounds:     cfg.Flows.MaxRounds,
	})
	if err != nil {
		return err
	}

	service := run.NewService(runStore, runQueue, cfg.Flows.MaxRetries)

	processorOpts := []run.ProcessorOption{
		run.WithWorkerCount(cfg.Flows.Workers),
		run.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := buildAlertDispatcher(cfg.Alerting); dispatcher != nil {
		processorOpts = append(processorOpts, run.WithAlertDispatcher(dispatcher))
	}
	processor := run.NewProcessor(launcher, runStore, runQueue, runQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", "error", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	logger.L().Info("agentflowd 启动",
		"address", cfg.Server.Address,
		"flows", launcher.Flows(),
		"store", cfg.Store.Driver,
		"queue", cfg.Queue.Driver,
	)

	server := api.NewServer(cfg.Server.Address, service, api.WithAuth(authService))
	return server.Start(ctx)
}

func buildAuthService(cfg config.AuthConfig) (*auth.Service, error) {
	tokens := make([]auth.StaticToken, 0, len(cfg.Tokens))
	for _, entry := range cfg.Tokens {
		tokens = append(tokens, auth.StaticToken{
			Token:       entry.Token,
			Name:        entry.Name,
			Permissions: entry.Permissions,
		})
	}
	return auth.NewService(auth.Config{
		Mode:   auth.Mode(cfg.Mode),
		Tokens: tokens,
		JWT: auth.JWTOptions{
			Secret:    cfg.JWT.Secret,
			Issuer:    cfg.JWT.Issuer,
			AccessTTL: cfg.JWT.AccessTTL,
		},
	})
}

// buildBackends 按配置实例化全部模型后端。默认后端同时注册到
// "default" 名下，供未显式指定后端的流配置使用。
func buildBackends(cfg config.LLMConfig) (map[string]llm.Backend, error) {
	backends := make(map[string]llm.Backend, len(cfg.Backends)+1)
	for _, entry := range cfg.Backends {
		var (
			backend llm.Backend
			err     error
		)
		switch entry.Provider {
		case "openai":
			apiKey := entry.OpenAI.APIKey
			if value := os.Getenv(strings.ToUpper(entry.Name) + "_API_KEY"); value != "" {
				apiKey = value
			}
			backend, err = openai.NewClient(openai.Config{
				APIKey:      apiKey,
				BaseURL:     entry.OpenAI.BaseURL,
				Model:       entry.OpenAI.Model,
				Temperature: entry.OpenAI.Temperature,
				Timeout:     time.Duration(entry.OpenAI.TimeoutSeconds) * time.Second,
			})
		case "script":
			scriptPath := scriptbridge.ResolveScriptPath(entry.Script.WorkingDir, entry.Script.Path)
			backend, err = scriptbridge.NewClient(entry.Script.Interpreter, scriptPath, entry.Script.WorkingDir)
		default:
			err = fmt.Errorf("未知的模型 provider: %s", entry.Provider)
		}
		if err != nil {
			return nil, fmt.Errorf("初始化后端 %s 失败: %w", entry.Name, err)
		}
		backends[entry.Name] = backend
	}
	if cfg.DefaultBackend != "" {
		if _, ok := backends["default"]; !ok {
			backends["default"] = backends[cfg.DefaultBackend]
		}
	}
	return backends, nil
}

func buildMemoryStore(ctx context.Context, cfg config.MemoryConfig) (memory.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewMemoryStore(cfg.Limit), nil
	case "redis":
		return memory.NewRedisStore(ctx, memory.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxEntries: cfg.Limit,
			TTL:        time.Duration(cfg.TTLHours) * time.Hour,
		})
	default:
		return nil, fmt.Errorf("未知的记忆驱动: %s", cfg.Driver)
	}
}

func buildRunStore(cfg config.StoreConfig) (run.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryStore(), nil
	case "mysql":
		return run.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func buildRunQueue(cfg config.QueueConfig) (run.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return run.NewRedisQueue(run.RedisQueueConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "rabbitmq":
		return run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildAlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhook{URL: cfg.DingTalkWebhook},
		})
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhook{URL: cfg.SlackWebhook},
			ChannelID: cfg.SlackChannel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// loadFlowConfigs 读取目录下的全部流配置文档，文件名（去扩展名）作为流名称。
func loadFlowConfigs(dir string) (map[string]*flowcfg.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取流配置目录失败: %w", err)
	}
	configs := make(map[string]*flowcfg.Document)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		doc, err := flowcfg.LoadDocument(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		configs[name] = doc
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("流配置目录 %s 中没有可用配置", dir)
	}
	return configs, nil
}

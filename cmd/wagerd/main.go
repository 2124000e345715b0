package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/internal/events"
	"github.com/MarkoPoloResearchLab/stakeledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/stakeledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/stakeledger/internal/lock/redislock"
	"github.com/MarkoPoloResearchLab/stakeledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	flagDatabaseURL    = "database-url"
	flagHTTPListenAddr = "http-listen-addr"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagLockTimeout    = "lock-timeout"
	flagRedisAddr      = "redis-addr"
	flagKafkaBrokers   = "kafka-brokers"
	flagKafkaTopic     = "kafka-topic"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagAdminRole      = "admin-role"
	flagEnvFile        = "env-file"
	envPrefix          = "WAGERD"

	defaultDatabaseURL    = "file://./data"
	defaultHTTPListenAddr = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultLockTimeout    = 3 * time.Second
	defaultKafkaTopic     = "wager-resolutions"
	defaultEnvFile        = ".env"
)

var configFlags = []string{
	flagDatabaseURL, flagHTTPListenAddr, flagGRPCListenAddr, flagLockTimeout, flagRedisAddr,
	flagKafkaBrokers, flagKafkaTopic, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer,
	flagJWTCookieName, flagAdminRole,
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wagerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "wagerd",
		Short:         "Stake resolution and balance ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "storage location: file://dir, sqlite://path, postgres://..., mysql://... (gorm) or pgx://... (pgx pool)")
	cmd.Flags().String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address (empty disables gRPC)")
	cmd.Flags().Duration(flagLockTimeout, defaultLockTimeout, "maximum wait for an account or aggregates lock")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for cross-process locks (empty uses in-process locks)")
	cmd.Flags().String(flagKafkaBrokers, "", "comma-separated Kafka brokers for resolution events (empty disables publishing)")
	cmd.Flags().String(flagKafkaTopic, defaultKafkaTopic, "Kafka topic for resolution events")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagAdminRole, "", "session role allowed to change the wagering policy")
	cmd.Flags().String(flagEnvFile, defaultEnvFile, "dotenv file with WAGERD_* variables (ignored when absent)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.GRPCListenAddr = v.GetString(flagGRPCListenAddr)
	cfg.LockTimeout = v.GetDuration(flagLockTimeout)
	cfg.RedisAddr = v.GetString(flagRedisAddr)
	cfg.KafkaBrokers = splitList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = v.GetString(flagKafkaTopic)
	cfg.HTTP = httpapi.Config{
		ListenAddr:        v.GetString(flagHTTPListenAddr),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     v.GetString(flagJWTIssuer),
		SessionCookieName: v.GetString(flagJWTCookieName),
		AdminRole:         v.GetString(flagAdminRole),
	}
	return cfg.Validate()
}

// loadEnvFile exports variables from path without overriding the environment.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			logger.Warn("store close error", zap.Error(closeErr))
		}
	}()

	locker, closeLocker, err := openLocker(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := oplog.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	options := []wager.ServiceOption{
		wager.WithOperationLogger(oplog.Fanout{oplog.NewZapLogger(logger), metrics}),
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewAsyncProducer(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		publisher, err := events.NewKafkaPublisher(producer, cfg.KafkaTopic, logger)
		if err != nil {
			_ = producer.Close()
			return err
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Warn("kafka producer close error", zap.Error(closeErr))
			}
		}()
		options = append(options, wager.WithResolutionPublisher(publisher))
	}

	service, err := wager.NewService(store, locker, time.Now, options...)
	if err != nil {
		return fmt.Errorf("wager service init: %w", err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	if cfg.GRPCListenAddr != "" {
		listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		grpcServer, err = grpcserver.NewGRPCServer(service)
		if err != nil {
			_ = listener.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
			if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", serveErr)
			}
		}()
	}

	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		if serveErr := httpapi.Run(serveCtx, cfg.HTTP, service, logger, registry); serveErr != nil {
			errCh <- fmt.Errorf("http: %w", serveErr)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}
	cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	<-httpDone
	return runErr
}

func openLocker(cfg *runtimeConfig, logger *zap.Logger) (wager.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return wager.NewGuard(cfg.LockTimeout), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	locker, err := redislock.New(client, cfg.LockTimeout, redislock.WithLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("redis close error", zap.Error(closeErr))
		}
	}
	return locker, closeFn, nil
}

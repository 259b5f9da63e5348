package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/imtaco/audio-rooms/internal/config"
	"github.com/imtaco/audio-rooms/internal/httputil"
	wsrpc "github.com/imtaco/audio-rooms/internal/jsonrpc/websocket"
	"github.com/imtaco/audio-rooms/internal/jwt"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/internal/otel"
	"github.com/imtaco/audio-rooms/internal/redis"
	"github.com/imtaco/audio-rooms/internal/workflow"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/media/pionengine"
	"github.com/imtaco/audio-rooms/recording"
	"github.com/imtaco/audio-rooms/rooms"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
	"github.com/imtaco/audio-rooms/wsgateway/signal"
	"github.com/imtaco/audio-rooms/wsgateway/transport"
)

type Config struct {
	App    config.App      `mapstructure:"app"`
	HTTP   httputil.Config `mapstructure:"http"`
	Redis  redis.Config    `mapstructure:"redis"`
	Otel   otel.Config     `mapstructure:"otel"`
	Media  media.Config    `mapstructure:"media"`
	Rooms  rooms.Config    `mapstructure:"rooms"`
	Signal signal.Config   `mapstructure:"signal"`

	RedisPrefix  string `mapstructure:"redis_prefix"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	RecordingDir string `mapstructure:"recording_dir"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("redis_prefix", "audiorooms")
		v.SetDefault("jwt_secret", "") // empty accepts roomId/peerId query params
		v.SetDefault("recording_dir", "")
		v.SetDefault("allowed_origins", []string{"*"})

		config.Setup(v, "app")
		redis.Setup(v, "redis")
		otel.Setup(v, "otel")
		httputil.Setup(v, "http")
		media.Setup(v, "media")
		rooms.Setup(v, "rooms")
		signal.Setup(v, "signal")

		// override default addrs to ease testing
		v.SetDefault("http.addr", "0.0.0.0:8081")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting audio relay...")

	// the worker pool must be up before anything listens
	engine, err := pionengine.NewEngine(config.Media, logger.Module("Media"))
	if err != nil {
		logger.Fatal("Failed to start media engine", log.Error(err))
	}

	clock := clockwork.NewRealClock()
	registry := rooms.NewRegistry(
		engine,
		mediapath.NewAddressResolver(config.Media.AnnouncedAddress),
		config.Rooms,
		clock,
		logger.Module("Rooms"),
	)

	sinks, err := recording.NewSinkFactory(config.RecordingDir)
	if err != nil {
		logger.Fatal("Failed to prepare recording directory", log.Error(err))
	}
	recorder := recording.NewManager(sinks, clock, logger.Module("Recording"))

	var (
		guard       signal.PeerGuard
		redisClient = redis.NewClient(&config.Redis)
	)
	if config.Redis.Enabled {
		if err := redis.Ping(redisClient); err != nil {
			logger.Fatal("Failed to connect to Redis", log.Error(err))
		}
		guard = signal.NewRedisGuard(
			redisClient,
			config.RedisPrefix,
			uuid.New().String(),
			clock,
			logger.Module("PeerGuard"),
		)
	} else {
		guard = signal.NewMemoryGuard()
	}

	var jwtAuth jwt.Auth
	if config.JWTSecret != "" {
		jwtAuth = jwt.NewAuth(config.JWTSecret)
	}

	peers := signal.NewPeerManager(config.Signal.OutboxSize, logger.Module("Peers"))
	hook := signal.NewWSHook(
		registry,
		peers,
		guard,
		recorder,
		jwtAuth,
		config.Signal,
		clock,
		logger.Module("WSHook"),
	)
	wsRPCServer := wsrpc.NewServer(
		hook,
		config.AllowedOrigins,
		logger.Module("WSRPC"),
	)
	signalServer := signal.NewServer(
		wsRPCServer,
		peers,
		guard,
		recorder,
		logger.Module("Signal"),
	)
	if err := signalServer.Open(ctx); err != nil {
		logger.Fatal("Failed to open Signal Server", log.Error(err))
	}

	router := transport.NewRouter(
		registry,
		wsRPCServer.HandleWebSocket,
		config.AllowedOrigins,
		logger.Module("HTTP"),
	)
	httpServer := httputil.NewServer(&config.HTTP, router.Handler())

	go func() {
		logger.Info("Starting HTTP server", log.String("addr", config.HTTP.Addr))
		if err := httpServer.Listen(); err != nil {
			logger.Fatal("Failed to start HTTP server", log.Error(err))
		}
	}()

	// Graceful shutdown
	cleanup := func(ctx context.Context) {
		_ = httpServer.Shutdown(ctx)

		if err := registry.Close(ctx); err != nil {
			logger.Error("Error closing rooms", log.Error(err))
		}
		_ = signalServer.Close()

		if err := engine.Close(); err != nil {
			logger.Error("Error closing media engine", log.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis client", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	if !workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout) {
		os.Exit(1)
	}
}

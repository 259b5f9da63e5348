package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/imtaco/audio-rooms/client"
	"github.com/imtaco/audio-rooms/client/capture"
	"github.com/imtaco/audio-rooms/client/status"
	"github.com/imtaco/audio-rooms/internal/config"
	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/internal/workflow"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/media/pionengine"
)

type Config struct {
	App     config.App              `mapstructure:"app"`
	Session client.Config           `mapstructure:",squash"`
	Device  pionengine.DeviceConfig `mapstructure:"device"`

	StatusURL      string        `mapstructure:"status_url"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	WAVFile        string        `mapstructure:"wav_file"`
	Loop           bool          `mapstructure:"loop"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("status_url", "") // empty skips status queries
		v.SetDefault("status_interval", "10s")
		v.SetDefault("wav_file", "") // empty joins muted
		v.SetDefault("loop", true)
		v.SetDefault("device.include_loopback", false)

		config.Setup(v, "app")
		client.Setup(v, "")
	})
}

// noCapture is used when no wav file is configured.
type noCapture struct{}

func (noCapture) Open(context.Context) (media.Source, error) {
	return nil, errors.New(errors.ErrDevice, "no capture source configured")
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

	if config.Session.PeerID == "" {
		config.Session.PeerID = uuid.NewString()
	}
	ctx := context.Background()
	clock := clockwork.NewRealClock()

	var statusClient *status.Client
	if config.StatusURL != "" {
		statusClient = status.NewClient(config.StatusURL, logger.Module("Status"))
		health, err := statusClient.Health(ctx)
		if err != nil {
			logger.Fatal("Relay is not healthy", log.Error(err))
		}
		logger.Info("Relay is up", log.Int("rooms", health.Rooms), log.Int("peers", health.Peers))
	}

	device, err := pionengine.NewDevice(config.Device, logger.Module("Device"))
	if err != nil {
		logger.Fatal("Failed to create media device", log.Error(err))
	}

	var capturer client.Capturer = noCapture{}
	if config.WAVFile != "" {
		capturer = capture.NewWAVCapturer(config.WAVFile, config.Loop, clock)
	}

	sess, err := client.Join(ctx, config.Session, device, capturer, clock, logger)
	if err != nil {
		logger.Fatal("Failed to join room", log.Error(err))
	}
	if config.WAVFile != "" {
		if err := sess.Unmute(ctx); err != nil {
			logger.Error("Failed to unmute", log.Error(err))
		}
	}

	// run until interrupted or the relay drops the connection
	runCtx, stop := context.WithCancel(ctx)
	go func() {
		select {
		case <-sess.Done():
			logger.Warn("Signaling connection closed")
		case <-runCtx.Done():
		}
		stop()
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logEvents(gctx, sess, logger.Module("Events"))
		return nil
	})
	if statusClient != nil {
		g.Go(func() error {
			pollStatus(gctx, statusClient, config.Session.RoomID, config.StatusInterval, clock, logger.Module("Status"))
			return nil
		})
	}

	cleanup := func(ctx context.Context) {
		if err := sess.Mute(ctx); err != nil {
			logger.Warn("Failed to mute before leaving", log.Error(err))
		}
		if err := sess.Close(); err != nil {
			logger.Warn("Error closing session", log.Error(err))
		}
		if err := device.Close(); err != nil {
			logger.Warn("Error closing media device", log.Error(err))
		}
		stop()
		_ = g.Wait()
	}
	if !workflow.WaitGracefulShutdown(runCtx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout) {
		os.Exit(1)
	}
}

func logEvents(ctx context.Context, sess *client.Session, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			logger.Info("Room event",
				log.String("type", string(ev.Type)),
				log.PeerID(ev.PeerID),
				log.Bool("speaking", ev.Speaking),
				log.Int("users", len(ev.Users)),
				log.ProducerID(ev.ProducerID))
		}
	}
}

func pollStatus(
	ctx context.Context,
	c *status.Client,
	roomID string,
	interval time.Duration,
	clock clockwork.Clock,
	logger *log.Logger,
) {
	if interval <= 0 {
		return
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			room, err := c.Room(ctx, roomID)
			if err != nil {
				logger.Warn("Room status failed", log.Error(err))
				continue
			}
			logger.Info("Room status", log.Int("members", len(room.Members)))
		}
	}
}

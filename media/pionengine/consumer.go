package pionengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

// consumer writes the packets of one producer to one recv transport.
// Packets are dropped until Resume.
type consumer struct {
	id         string
	params     media.Parameters
	transport  *transport
	producer   *producer
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
	sendParams webrtc.RTPSendParameters
	logger     *log.Logger

	resumed atomic.Bool
	sending atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *consumer) ID() string                   { return c.id }
func (c *consumer) Parameters() media.Parameters { return c.params }

func (c *consumer) Resume() error {
	if c.closed.Load() {
		return errors.New(errors.ErrInvalidState, "consumer closed")
	}
	if c.resumed.Swap(true) {
		return nil
	}

	go c.start()
	return nil
}

func (c *consumer) start() {
	if err := c.transport.link.wait(context.Background()); err != nil {
		c.logger.Debug("Consumer not started", log.Error(err))
		return
	}
	if c.closed.Load() {
		return
	}
	if err := c.sender.Send(c.sendParams); err != nil {
		c.logger.Warn("Consumer send failed", log.Error(err))
		return
	}
	c.sending.Store(true)
}

func (c *consumer) write(pkt *rtp.Packet) {
	if !c.sending.Load() || c.closed.Load() {
		return
	}
	if err := c.track.WriteRTP(pkt); err != nil {
		c.logger.Debug("Consumer write failed", log.Error(err))
	}
}

func (c *consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.producer.detach(c.id)
		_ = c.sender.Stop()
	})
	return nil
}

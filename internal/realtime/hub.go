// Hub ties the backbone to the channel registry and the file side-channel,
// and owns the chunk batcher of the publish facade.

package realtime

import (
	"Shipper/internal/backbone"
	"Shipper/internal/batcher"
	"Shipper/internal/entity"
	"Shipper/internal/filestream"
	"Shipper/internal/metrics"
	"Shipper/internal/sse"
	"Shipper/pkg/log"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

type Options struct {
	Heartbeat     time.Duration
	ClientQueue   int
	ChunkInterval time.Duration
	Files         filestream.Options
}

type Hub struct {
	backbone backbone.Backbone
	registry *sse.Registry
	files    *filestream.SideChannel
	batcher  *batcher.Batcher

	opts    Options
	logger  log.Logger
	metrics *metrics.Metrics

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func NewHub(bb backbone.Backbone, opts Options, logger log.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		backbone: bb,
		registry: sse.NewRegistry(bb, logger, m),
		files:    filestream.NewSideChannel(opts.Files, logger, m),
		opts:     opts,
		logger:   logger,
		metrics:  m,
		cancel:   func() {},
	}
	h.batcher = batcher.New(opts.ChunkInterval, h.emitChunk, m)
	return h
}

// Start begins consuming the backbone and sweeping file buffers until ctx is
// done or Shutdown is called. The file events pattern is in place when Start
// returns unless the broker refused it, then it is retried in the background.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	if suberr := h.backbone.PSubscribe(ctx, entity.FileEventsPattern); suberr != nil {
		h.logger.Warn().Err(suberr).Str("pattern", entity.FileEventsPattern).Msg("Couldn't subscribe to file events")
		go h.armFilePattern(ctx)
	}
	h.backbone.Listen(ctx, h.HandleMessage)
	go h.files.Run(ctx)
}

// armFilePattern retries the file events subscription until the broker accepts it.
func (h *Hub) armFilePattern(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	_, suberr := backoff.Retry(ctx, func() (struct{}, error) {
		err := h.backbone.PSubscribe(ctx, entity.FileEventsPattern)
		if errors.Is(err, backbone.ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0), backoff.WithNotify(func(err error, next time.Duration) {
		h.logger.Warn().Err(err).Dur("retry_in", next).Str("pattern", entity.FileEventsPattern).Msg("Couldn't subscribe to file events")
	}))
	if suberr != nil && ctx.Err() == nil {
		h.logger.Error().Err(suberr).Str("pattern", entity.FileEventsPattern).Msg("Gave up subscribing to file events")
	}
}

// HandleMessage routes a backbone message: file-events channels go to the
// side-channel, everything else is decoded and delivered by the registry.
func (h *Hub) HandleMessage(channel string, payload []byte) {
	if strings.HasPrefix(channel, entity.FileEventsChannelPrefix) {
		h.files.Ingest(channel, payload)
		return
	}
	ev, decerr := entity.DecodeEvent(payload)
	if decerr != nil {
		h.metrics.Malformed()
		h.logger.Warn().Err(decerr).Str("channel", channel).Msg("Dropped malformed backbone message")
		return
	}
	h.registry.Deliver(channel, ev)
}

// Publish sends ev through the backbone. If the broker fails the event is
// delivered to this instance's connections only.
func (h *Hub) Publish(ctx context.Context, channel string, ev entity.Event) error {
	payload, encerr := json.Marshal(ev)
	if encerr != nil {
		return errors.Wrapf(encerr, "couldn't encode %s event", ev.Type)
	}
	if h.publish(ctx, channel, payload) {
		return nil
	}
	h.registry.Deliver(channel, ev)
	return nil
}

// PublishFile sends a file event to projectID's file stream, with the same fallback as Publish.
func (h *Hub) PublishFile(ctx context.Context, projectID string, fe entity.FileEvent) error {
	if !entity.IsFileEventType(fe.Type) {
		return errors.Errorf("%q is not a file event", fe.Type)
	}
	payload, encerr := json.Marshal(fe)
	if encerr != nil {
		return errors.Wrap(encerr, "couldn't encode file event")
	}
	channel := entity.FileEventsChannel(projectID)
	if h.publish(ctx, channel, payload) {
		return nil
	}
	h.files.Ingest(channel, payload)
	return nil
}

// publish reports whether the backbone took the payload.
func (h *Hub) publish(ctx context.Context, channel string, payload []byte) bool {
	puberr := h.backbone.Publish(ctx, channel, payload)
	if puberr == nil {
		if h.backbone.Mode() == backbone.ModeLocal {
			h.metrics.Published(metrics.PathLocal)
		} else {
			h.metrics.Published(metrics.PathBackbone)
		}
		return true
	}
	h.metrics.Published(metrics.PathFallback)
	if !errors.Is(puberr, backbone.ErrCircuitOpen) {
		h.logger.Warn().Err(puberr).Str("channel", channel).Msg("Backbone publish failed, delivering locally")
	}
	return false
}

// emitChunk publishes a coalesced batch, the batch scope is "<family>:<projectId>".
func (h *Hub) emitChunk(key batcher.Key, text, userID string) {
	family, projectID, _ := strings.Cut(key.Scope, ":")
	ev := entity.NewEvent(entity.ChunkPayload{
		Family:     entity.Family(family),
		MessageID:  key.MessageID,
		Chunk:      text,
		IsThinking: key.Thinking,
	}, userID)
	if puberr := h.Publish(context.Background(), entity.ProjectChannel(projectID), ev); puberr != nil {
		h.logger.Error().Err(puberr).Str("project", projectID).Msg("Error occured while publishing chunk batch")
	}
}

// Subscribe opens a channel stream for client.
func (h *Hub) Subscribe(channel string, client *sse.Client) func() {
	return h.registry.Subscribe(channel, client)
}

// AddFileClient opens projectID's file stream for client, replaying buffered events first.
func (h *Hub) AddFileClient(projectID string, client *sse.Client) func() {
	return h.files.AddClient(projectID, client)
}

// Stats is the observability snapshot served by the stats endpoint.
type Stats struct {
	Mode           backbone.Mode                      `json:"mode"`
	Breaker        string                             `json:"breaker,omitempty"`
	Channels       map[string]int                     `json:"channels"`
	FileStreams    map[string]filestream.ProjectStats `json:"fileStreams"`
	PendingBatches int                                `json:"pendingBatches"`
}

func (h *Hub) Stats() Stats {
	stats := Stats{
		Mode:           h.backbone.Mode(),
		Channels:       h.registry.Stats(),
		FileStreams:    h.files.Stats(),
		PendingBatches: h.batcher.Pending(),
	}
	if remote, ok := h.backbone.(*backbone.RemoteBackbone); ok {
		stats.Breaker = remote.BreakerState()
	}
	return stats
}

// Shutdown flushes pending chunk batches, closes every stream and then the
// backbone. Only the first call does anything.
func (h *Hub) Shutdown(ctx context.Context) error {
	var clserr error
	h.shutdownOnce.Do(func() {
		h.batcher.Stop()
		h.cancel()
		h.registry.CloseAll()
		h.files.CloseAll()
		clserr = h.backbone.Close()
		h.logger.WithCtx(ctx).Info().Msg("Realtime hub shut down")
	})
	return clserr
}

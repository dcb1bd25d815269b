// File event side-channel: high volume file:* events of code generation, with
// a short replay so late joiners catch up.

package filestream

import (
	"Shipper/internal/entity"
	"Shipper/internal/metrics"
	"Shipper/internal/sse"
	"Shipper/pkg/log"
	"context"
	"sync"
	"time"
)

const metricsKind = "file-events"

type Options struct {
	BufferSize    int
	BufferTTL     time.Duration
	SweepInterval time.Duration
}

type project struct {
	buffer  *Buffer
	clients map[string]*sse.Client
}

// ProjectStats describes one project of the side-channel.
type ProjectStats struct {
	Clients  int `json:"clients"`
	Buffered int `json:"buffered"`
}

// SideChannel fans file events out to file stream connections. Frames are
// queued while holding mu so replay always precedes live frames.
type SideChannel struct {
	mu       sync.Mutex
	projects map[string]*project

	opts    Options
	logger  log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSideChannel(opts Options, logger log.Logger, m *metrics.Metrics) *SideChannel {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	return &SideChannel{
		projects: make(map[string]*project),
		opts:     opts,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// caller holds mu
func (s *SideChannel) project(projectID string) *project {
	p, ok := s.projects[projectID]
	if !ok {
		p = &project{
			buffer:  NewBuffer(s.opts.BufferSize, s.opts.BufferTTL),
			clients: make(map[string]*sse.Client),
		}
		s.projects[projectID] = p
	}
	return p
}

// AddClient registers client for projectID and queues the buffered events,
// oldest first, ahead of any live event. The returned func removes it again.
func (s *SideChannel) AddClient(projectID string, client *sse.Client) func() {
	s.mu.Lock()
	p := s.project(projectID)
	p.clients[client.ID] = client
	replayed := 0
	for _, frame := range p.buffer.frames(s.now()) {
		if senderr := client.Send(frame); senderr != nil {
			s.logger.Warn().Err(senderr).Str("project", projectID).Msg("Replay cut short")
			break
		}
		replayed++
	}
	s.mu.Unlock()

	s.metrics.ClientConnected(metricsKind)
	s.logger.Debug().Str("project", projectID).Str("client", client.ID).Int("replayed", replayed).Msg("File stream client added")

	var once sync.Once
	return func() {
		once.Do(func() { s.removeClient(projectID, client) })
	}
}

func (s *SideChannel) removeClient(projectID string, client *sse.Client) {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return
	}
	_, present := p.clients[client.ID]
	delete(p.clients, client.ID)
	if len(p.clients) == 0 && p.buffer.Len() == 0 {
		delete(s.projects, projectID)
	}
	s.mu.Unlock()

	if present {
		s.metrics.ClientDisconnected(metricsKind)
	}
}

// Ingest handles a message received on a concrete file-events:<projectId>
// channel. Undecodable messages are logged and dropped. It returns the number
// of connections the event was queued to.
func (s *SideChannel) Ingest(channel string, payload []byte) int {
	projectID, ok := entity.ProjectIDFromFileChannel(channel)
	if !ok {
		s.metrics.Malformed()
		s.logger.Warn().Str("channel", channel).Msg("Dropped file event from unexpected channel")
		return 0
	}
	fe, decerr := entity.DecodeFileEvent(payload)
	if decerr != nil {
		s.metrics.Malformed()
		s.logger.Warn().Err(decerr).Str("channel", channel).Msg("Dropped malformed file event")
		return 0
	}
	if fe.ProjectID == "" {
		fe.ProjectID = projectID
	}
	frame, encerr := sse.DataFrame(fe)
	if encerr != nil {
		s.logger.Error().Err(encerr).Str("channel", channel).Msg("Error occured while encoding file event frame")
		return 0
	}

	delivered, pruned := 0, 0
	s.mu.Lock()
	p := s.project(projectID)
	p.buffer.Push(fe, frame, s.now())
	for id, c := range p.clients {
		if senderr := c.Send(frame); senderr != nil {
			c.Close()
			delete(p.clients, id)
			pruned++
			s.logger.Warn().Err(senderr).Str("project", projectID).Str("client", id).Msg("Pruned dead file stream client")
			continue
		}
		delivered++
	}
	s.mu.Unlock()

	for i := 0; i < pruned; i++ {
		s.metrics.Pruned(metricsKind)
		s.metrics.ClientDisconnected(metricsKind)
	}
	s.metrics.Delivered(metricsKind, delivered)
	return delivered
}

// Sweep drops expired events, and projects left with neither events nor clients.
func (s *SideChannel) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.projects {
		removed += p.buffer.Sweep(now)
		if len(p.clients) == 0 && p.buffer.Len() == 0 {
			delete(s.projects, id)
		}
	}
	return removed
}

// Run sweeps on every SweepInterval until ctx is done.
func (s *SideChannel) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("Swept expired file events")
			}
		}
	}
}

// Stats reports clients and buffered events per project.
func (s *SideChannel) Stats() map[string]ProjectStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[string]ProjectStats, len(s.projects))
	for id, p := range s.projects {
		stats[id] = ProjectStats{Clients: len(p.clients), Buffered: p.buffer.Len()}
	}
	return stats
}

// Buffered returns the replayable events of projectID, oldest first.
func (s *SideChannel) Buffered(projectID string) []entity.FileEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}
	return p.buffer.Snapshot(s.now())
}

// CloseAll closes every file stream connection.
func (s *SideChannel) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		for _, c := range p.clients {
			c.Close()
		}
	}
}

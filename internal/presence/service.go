// Service layer of project presence in Shipper.

package presence

import (
	"Shipper/internal/entity"
	"Shipper/pkg/log"
	"context"
	"time"
)

// PublishFunc hands a presence event to the realtime fan-out.
type PublishFunc func(ctx context.Context, channel string, ev entity.Event) error

type Service interface {
	// Connect records an open project stream of userID and returns the func
	// recording its close. Anonymous streams are not tracked.
	Connect(ctx context.Context, projectID, userID string) func()
	// Members lists the users currently connected to projectID.
	Members(ctx context.Context, projectID string) ([]string, error)
}

type service struct {
	repo    Repository
	publish PublishFunc
	logger  log.Logger
}

func NewService(repo Repository, publish PublishFunc, logger log.Logger) Service {
	return service{repo: repo, publish: publish, logger: logger}
}

func (s service) Connect(ctx context.Context, projectID, userID string) func() {
	if userID == "" {
		return func() {}
	}
	first, err := s.repo.Join(ctx, s.logger, projectID, userID)
	if err == nil && first {
		s.announce(ctx, projectID, entity.PresenceJoinPayload{UserID: userID}, userID)
	}
	return func() {
		// the request context is already done when the stream closes
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		last, err := s.repo.Leave(ctx, s.logger, projectID, userID)
		if err == nil && last {
			s.announce(ctx, projectID, entity.PresenceLeavePayload{UserID: userID}, userID)
		}
	}
}

func (s service) announce(ctx context.Context, projectID string, p entity.Payload, userID string) {
	if puberr := s.publish(ctx, entity.ProjectChannel(projectID), entity.NewEvent(p, userID)); puberr != nil {
		s.logger.WithCtx(ctx).Warn().Err(puberr).Str("project", projectID).Msg("Error occured while publishing presence event")
	}
}

func (s service) Members(ctx context.Context, projectID string) ([]string, error) {
	return s.repo.Members(ctx, s.logger, projectID)
}

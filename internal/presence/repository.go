// presence repository encapsulates the data access logic (interactions with the DB) related to project presence in Shipper.

package presence

import (
	"Shipper/internal/errors"
	"Shipper/pkg/db"
	"Shipper/pkg/log"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Presence hashes outlive a crashed instance for at most this long.
const presenceTTL = 12 * time.Hour

func presenceDbKey(projectID string) string {
	return "presence:" + projectID
}

type Repository interface {
	// Join counts one more open stream of userID in projectID.
	// Returns true if it is the first stream of that user.
	Join(ctx context.Context, logger log.Logger, projectID, userID string) (bool, error)
	// Leave counts one stream of userID less.
	// Returns true if it was the last stream of that user.
	Leave(ctx context.Context, logger log.Logger, projectID, userID string) (bool, error)
	// Members returns the users with at least one open stream, sorted.
	Members(ctx context.Context, logger log.Logger, projectID string) ([]string, error)
}

// repository struct of presence Repository, shared by every instance through Redis.
type repository struct {
	db *db.RedisDB
}

// Returns a new instance of presence repository backed by Redis.
func NewRepository(dbwrp *db.RedisDB) Repository {
	return repository{db: dbwrp}
}

func (r repository) Join(ctx context.Context, logger log.Logger, projectID, userID string) (bool, error) {
	key := presenceDbKey(projectID)
	var count *redis.IntCmd
	_, dberr := r.db.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.HIncrBy(ctx, key, userID, 1)
		pipe.Expire(ctx, key, presenceTTL)
		return nil
	})
	if dberr != nil {
		// Error during interacting with DB
		logger.WithCtx(ctx).Error().Err(dberr).Str("project", projectID).Msg("Error occured during execution of HIncrBy in presence.Join")
		return false, errors.InternalServerError("")
	}
	return count.Val() == 1, nil
}

func (r repository) Leave(ctx context.Context, logger log.Logger, projectID, userID string) (bool, error) {
	key := presenceDbKey(projectID)
	last := false
	txf := func(tx *redis.Tx) error {
		n, dberr := tx.HGet(ctx, key, userID).Int64()
		if dberr != nil && dberr != redis.Nil {
			return dberr
		}
		// Operation is commited only if the watched key remains unchanged
		_, dberr = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if n <= 1 {
				pipe.HDel(ctx, key, userID)
			} else {
				pipe.HIncrBy(ctx, key, userID, -1)
			}
			return nil
		})
		last = n <= 1
		return dberr
	}
	txferr := func() error {
		for i := 0; i < r.db.GetMaxRetries(); i++ {
			dberr := r.db.Client().Watch(ctx, txf, key)
			if dberr == nil {
				return nil
			} else if dberr == redis.TxFailedErr {
				// Optimistic lock lost. Retry.
				continue
			}
			// Return any other error.
			return dberr
		}
		return errors.New("decrement reached maximum number of retries")
	}()
	if txferr != nil {
		logger.WithCtx(ctx).Error().Err(txferr).Str("project", projectID).Msg("Error occured in presence.Leave transaction")
		return false, errors.InternalServerError("")
	}
	return last, nil
}

func (r repository) Members(ctx context.Context, logger log.Logger, projectID string) ([]string, error) {
	members, dberr := r.db.Client().HKeys(ctx, presenceDbKey(projectID)).Result()
	if dberr != nil && dberr != redis.Nil {
		logger.WithCtx(ctx).Error().Err(dberr).Str("project", projectID).Msg("Error occured during execution of HKeys in presence.Members")
		return nil, errors.InternalServerError("")
	}
	sort.Strings(members)
	return members, nil
}

// memoryRepository keeps presence of this instance only, used in local-only mode.
type memoryRepository struct {
	mu     sync.Mutex
	counts map[string]map[string]int
}

func NewMemoryRepository() Repository {
	return &memoryRepository{counts: make(map[string]map[string]int)}
}

func (m *memoryRepository) Join(_ context.Context, _ log.Logger, projectID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.counts[projectID]
	if !ok {
		users = make(map[string]int)
		m.counts[projectID] = users
	}
	users[userID]++
	return users[userID] == 1, nil
}

func (m *memoryRepository) Leave(_ context.Context, _ log.Logger, projectID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.counts[projectID]
	if users[userID] <= 1 {
		delete(users, userID)
		if len(users) == 0 {
			delete(m.counts, projectID)
		}
		return true, nil
	}
	users[userID]--
	return false, nil
}

func (m *memoryRepository) Members(_ context.Context, _ log.Logger, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.counts[projectID]))
	for user := range m.counts[projectID] {
		members = append(members, user)
	}
	sort.Strings(members)
	return members, nil
}

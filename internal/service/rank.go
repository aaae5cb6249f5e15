package service

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/testnet/services/points/internal/cache"
	"example.com/testnet/services/points/internal/models"
	"example.com/testnet/services/points/internal/repository"
)

const (
	rankCacheTTL            = 30 * time.Second
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

// RankedUser is one row of the standings for a category set.
type RankedUser struct {
	UserID   uint   `json:"user_id"`
	Graffiti string `json:"graffiti"`
	Points   int64  `json:"points"`
	Rank     int    `json:"rank"`
}

// RankService computes leaderboard standings over the aggregate store.
// Never in the write path; reads may lag the ledger by the worker's
// dispatch latency.
type RankService struct {
	users      *repository.UserRepository
	userPoints *repository.UserPointsRepository
	cache      *cache.RedisCache
}

// NewRankService creates a new rank service
func NewRankService(db *gorm.DB, redisCache *cache.RedisCache) *RankService {
	return &RankService{
		users:      repository.NewUserRepository(db),
		userPoints: repository.NewUserPointsRepository(db),
		cache:      redisCache,
	}
}

// RankForUser returns a user's summed points and dense rank among all users
// for the given category set. An empty set means all categories. A user
// without an aggregate row indicates broken provisioning and is a fault.
func (s *RankService) RankForUser(ctx context.Context, user *models.User, types []models.EventType) (*RankedUser, error) {
	if len(types) == 0 {
		types = models.EventTypes()
	}

	key := cache.RankCacheKey(user.ID, types)
	var cached RankedUser
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	standings, hasRow, err := s.standings(ctx, types)
	if err != nil {
		return nil, err
	}
	if !hasRow[user.ID] {
		return nil, errors.Errorf("user %d has no user_points entry", user.ID)
	}

	for i := range standings {
		if standings[i].UserID == user.ID {
			result := standings[i]
			if err := s.cache.Set(ctx, key, result, rankCacheTTL); err != nil {
				log.Debug().Err(err).Msg("Failed to cache rank result")
			}
			return &result, nil
		}
	}
	return nil, errors.Errorf("user %d missing from standings", user.ID)
}

// Leaderboard returns the top entries of the standings for a category set.
func (s *RankService) Leaderboard(ctx context.Context, types []models.EventType, limit int) ([]RankedUser, error) {
	if len(types) == 0 {
		types = models.EventTypes()
	}
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	standings, _, err := s.standings(ctx, types)
	if err != nil {
		return nil, err
	}
	if len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

// standing holds the three ordering keys for one user.
type standing struct {
	user      models.User
	points    int64
	earliest  time.Time
	createdAt time.Time
}

// standings ranks every user. Ordering, best first: higher summed points;
// then the earlier minimum of the per-category latest-occurred-at
// timestamps (a user who reached their points earlier beats a later tie;
// no timestamp at all is treated as "now", the worst); then earlier
// account creation. Full ties share a dense rank.
func (s *RankService) standings(ctx context.Context, types []models.EventType) ([]RankedUser, map[uint]bool, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.userPoints.ListAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	byUser := make(map[uint]*models.UserPoints, len(rows))
	hasRow := make(map[uint]bool, len(rows))
	for i := range rows {
		byUser[rows[i].UserID] = &rows[i]
		hasRow[rows[i].UserID] = true
	}

	now := time.Now().UTC()
	entries := make([]standing, 0, len(users))
	for _, user := range users {
		entry := standing{user: user, earliest: now, createdAt: user.CreatedAt}
		if row := byUser[user.ID]; row != nil {
			hasTimestamp := false
			var earliest time.Time
			for _, t := range types {
				entry.points += row.CategoryPoints(t)
				if ts := row.CategoryLastOccurredAt(t); ts != nil {
					if !hasTimestamp || ts.Before(earliest) {
						earliest = *ts
						hasTimestamp = true
					}
				}
			}
			if hasTimestamp {
				entry.earliest = earliest
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.points != b.points {
			return a.points > b.points
		}
		if !a.earliest.Equal(b.earliest) {
			return a.earliest.Before(b.earliest)
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.user.ID < b.user.ID
	})

	ranked := make([]RankedUser, len(entries))
	rank := 0
	for i, entry := range entries {
		if i == 0 || !tied(entries[i-1], entry) {
			rank++
		}
		ranked[i] = RankedUser{
			UserID:   entry.user.ID,
			Graffiti: entry.user.Graffiti,
			Points:   entry.points,
			Rank:     rank,
		}
	}
	return ranked, hasRow, nil
}

// tied reports whether two entries compare equal on all three keys.
func tied(a, b standing) bool {
	return a.points == b.points &&
		a.earliest.Equal(b.earliest) &&
		a.createdAt.Equal(b.createdAt)
}

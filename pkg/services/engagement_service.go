package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
)

// EngagementService handles reader toggles. Every toggle is idempotent:
// repeating it reports Changed=false and leaves the counter alone.
type EngagementService interface {
	Like(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error)
	Unlike(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error)
	Save(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error)
	Unsave(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error)
	Follow(ctx context.Context, auth models.AuthContext, followeeID uuid.UUID) (*models.FollowState, error)
	Unfollow(ctx context.Context, auth models.AuthContext, followeeID uuid.UUID) (*models.FollowState, error)

	// ReaderState reports whether the actor has liked and saved the article.
	ReaderState(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReaderState, error)
}

type engagementService struct {
	db         database.TxRunner
	engagement repositories.EngagementRepository
	feeds      repositories.FeedRepository
	users      repositories.UserRepository
	logger     *zap.Logger
}

// NewEngagementService creates a new EngagementService.
func NewEngagementService(
	db database.TxRunner,
	engagement repositories.EngagementRepository,
	feeds repositories.FeedRepository,
	users repositories.UserRepository,
	logger *zap.Logger,
) EngagementService {
	return &engagementService{
		db:         db,
		engagement: engagement,
		feeds:      feeds,
		users:      users,
		logger:     logger.Named("engagement-service"),
	}
}

var _ EngagementService = (*engagementService)(nil)

func (s *engagementService) Like(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error) {
	return s.react(ctx, auth, models.ReactionLike, articleID, true)
}

func (s *engagementService) Unlike(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error) {
	return s.react(ctx, auth, models.ReactionLike, articleID, false)
}

func (s *engagementService) Save(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error) {
	return s.react(ctx, auth, models.ReactionSave, articleID, true)
}

func (s *engagementService) Unsave(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReactionState, error) {
	return s.react(ctx, auth, models.ReactionSave, articleID, false)
}

func (s *engagementService) react(ctx context.Context, auth models.AuthContext, kind models.ReactionKind, articleID uuid.UUID, active bool) (*models.ReactionState, error) {
	op := string(kind)
	if !active {
		op = "un" + op
	}
	if err := requireActive(auth, op); err != nil {
		return nil, err
	}

	state := &models.ReactionState{ArticleID: articleID, Kind: kind, Active: active}
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		if !active {
			var err error
			state.Changed, state.Count, err = s.engagement.RemoveReaction(ctx, kind, auth.UserID, articleID)
			return err
		}

		eligible, err := s.feeds.IsEligible(ctx, articleID)
		if err != nil {
			return err
		}
		if !eligible {
			return fmt.Errorf("article %s: %w", articleID, apperrors.ErrNotFound)
		}
		state.Changed, state.Count, err = s.engagement.AddReaction(ctx, kind, auth.UserID, articleID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if state.Changed {
		s.logger.Debug("Reaction toggled",
			zap.String("kind", string(kind)),
			zap.Bool("active", active),
			zap.String("article_id", articleID.String()),
			zap.Int64("count", state.Count))
	}
	return state, nil
}

func (s *engagementService) Follow(ctx context.Context, auth models.AuthContext, followeeID uuid.UUID) (*models.FollowState, error) {
	if err := requireActive(auth, "follow"); err != nil {
		return nil, err
	}
	if followeeID == auth.UserID {
		return nil, apperrors.NewValidationError("followee_id", "cannot follow yourself")
	}

	if _, err := s.users.GetByID(ctx, followeeID); err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}

	changed, err := s.engagement.Follow(ctx, auth.UserID, followeeID)
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	return &models.FollowState{
		FollowerID: auth.UserID,
		FolloweeID: followeeID,
		Following:  true,
		Changed:    changed,
	}, nil
}

func (s *engagementService) Unfollow(ctx context.Context, auth models.AuthContext, followeeID uuid.UUID) (*models.FollowState, error) {
	if err := requireActive(auth, "unfollow"); err != nil {
		return nil, err
	}

	changed, err := s.engagement.Unfollow(ctx, auth.UserID, followeeID)
	if err != nil {
		return nil, fmt.Errorf("unfollow: %w", err)
	}
	return &models.FollowState{
		FollowerID: auth.UserID,
		FolloweeID: followeeID,
		Following:  false,
		Changed:    changed,
	}, nil
}

func (s *engagementService) ReaderState(ctx context.Context, auth models.AuthContext, articleID uuid.UUID) (*models.ReaderState, error) {
	if auth.IsAnonymous() {
		return nil, apperrors.NewPermissionError("reader state", "authentication required")
	}

	state := &models.ReaderState{ArticleID: articleID}
	var err error
	if state.Liked, err = s.engagement.HasReaction(ctx, models.ReactionLike, auth.UserID, articleID); err != nil {
		return nil, fmt.Errorf("reader state: %w", err)
	}
	if state.Saved, err = s.engagement.HasReaction(ctx, models.ReactionSave, auth.UserID, articleID); err != nil {
		return nil, fmt.Errorf("reader state: %w", err)
	}
	return state, nil
}

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
)

// UserService mirrors accounts from the external identity store.
type UserService interface {
	// EnsureUser records a user the first time it is seen and refreshes its
	// display name afterwards.
	EnsureUser(ctx context.Context, id uuid.UUID, displayName string) (*models.User, error)

	// SetBanned bans or unbans a user. Banned authors disappear from feeds.
	SetBanned(ctx context.Context, auth models.AuthContext, userID uuid.UUID, banned bool, reason string) (*models.User, error)
}

type userService struct {
	db     database.TxRunner
	repo   repositories.UserRepository
	audit  AuditService
	logger *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(db database.TxRunner, repo repositories.UserRepository, audit AuditService, logger *zap.Logger) UserService {
	return &userService{
		db:     db,
		repo:   repo,
		audit:  audit,
		logger: logger.Named("user-service"),
	}
}

var _ UserService = (*userService)(nil)

func (s *userService) EnsureUser(ctx context.Context, id uuid.UUID, displayName string) (*models.User, error) {
	if id == uuid.Nil {
		return nil, apperrors.NewValidationError("id", "is required")
	}
	user := &models.User{ID: id, DisplayName: strings.TrimSpace(displayName)}
	if err := s.repo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *userService) SetBanned(ctx context.Context, auth models.AuthContext, userID uuid.UUID, banned bool, reason string) (*models.User, error) {
	if err := requireAdmin(auth, "ban user"); err != nil {
		return nil, err
	}
	if userID == auth.UserID {
		return nil, apperrors.NewValidationError("user_id", "cannot change your own ban status")
	}

	var user *models.User
	err := s.db.WithTx(ctx, database.ReadCommitted, func(ctx context.Context) error {
		previous, err := s.repo.SetBanned(ctx, userID, banned)
		if err != nil {
			return err
		}

		if previous != banned {
			action := models.AuditActionUserUnbanned
			if banned {
				action = models.AuditActionUserBanned
			}
			if err := s.audit.Record(ctx, AuditRecord{
				ActorID:    auth.UserID,
				Action:     action,
				TargetType: models.AuditTargetUser,
				TargetID:   userID,
				Reason:     strings.TrimSpace(reason),
			}); err != nil {
				return err
			}
		}

		user, err = s.repo.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set banned: %w", err)
	}

	s.logger.Info("User ban status set",
		zap.String("user_id", userID.String()),
		zap.Bool("banned", banned))
	return user, nil
}

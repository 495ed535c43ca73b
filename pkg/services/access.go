package services

import (
	"github.com/ekaya-inc/ekaya-press/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
)

// requireActive rejects anonymous and banned actors.
func requireActive(auth models.AuthContext, op string) error {
	if auth.IsAnonymous() {
		return apperrors.NewPermissionError(op, "authentication required")
	}
	if auth.IsBanned {
		return apperrors.NewPermissionError(op, "actor is banned")
	}
	return nil
}

func requireReviewer(auth models.AuthContext, op string) error {
	if err := requireActive(auth, op); err != nil {
		return err
	}
	if !auth.CanReview() {
		return apperrors.NewPermissionError(op, "reviewer or admin role required")
	}
	return nil
}

func requireAdmin(auth models.AuthContext, op string) error {
	if err := requireActive(auth, op); err != nil {
		return err
	}
	if !auth.IsAdmin() {
		return apperrors.NewPermissionError(op, "admin role required")
	}
	return nil
}

// requireAuthor checks that the actor owns the article.
func requireAuthor(auth models.AuthContext, article *models.Article, op string) error {
	if err := requireActive(auth, op); err != nil {
		return err
	}
	if article.AuthorID != auth.UserID {
		return apperrors.NewPermissionError(op, "only the author may do this")
	}
	return nil
}

// transition checks the revision status table.
func transition(op string, from, to models.RevisionStatus) error {
	if !from.CanTransitionTo(to) {
		return &apperrors.TransitionError{Operation: op, From: string(from), To: string(to)}
	}
	return nil
}

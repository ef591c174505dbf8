package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spoolhub/pkg/auth"
	"spoolhub/pkg/domain"
	"spoolhub/pkg/store"
	"spoolhub/pkg/workflow"
)

// Register creates the user and its default settings in one transaction.
func (a *App) Register(ctx context.Context, in RegisterInput) (Result, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Result{}, err
	}
	ids, err := a.runner.Run(ctx, "register_user", func(u *workflow.Unit) error {
		user, err := u.Repos().Users().Create(u.Context(), domain.User{
			Username:     strings.TrimSpace(in.Username),
			Email:        normalizeEmail(in.Email),
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}
		settings, err := u.Repos().Settings().Create(u.Context(), domain.DefaultSettings(user.ID))
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{UserID: user.ID, UserSettingsID: settings.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return createdResult(ids), nil
}

// Login checks credentials, mints a pair and allow-lists the refresh token.
func (a *App) Login(ctx context.Context, in LoginInput) (Result, error) {
	user, err := a.store.Users().FindByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return Result{}, err
	}
	if !auth.CheckPassword(in.Password, user.PasswordHash) {
		return Result{}, domain.InvalidCredentials(msgIncorrectPassword, "password")
	}
	pair, err := a.tokens.Issue(user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := a.sessions.Append(ctx, user.ID, pair.RefreshToken); err != nil {
		return Result{}, fmt.Errorf("cache refresh token: %w", err)
	}
	return authResult(pair, &user), nil
}

// Renew exchanges a refresh token for a new pair. The presented token is
// swapped out of the allow-list atomically, so it can be used only once.
func (a *App) Renew(ctx context.Context, refreshToken string) (Result, error) {
	presented, userID, err := a.verifyRefresh(refreshToken)
	if err != nil {
		return Result{}, err
	}
	if _, err := a.store.Users().FindByID(ctx, userID); err != nil {
		return Result{}, err
	}
	pair, err := a.tokens.Issue(userID)
	if err != nil {
		return Result{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := a.sessions.Swap(ctx, userID, presented, pair.RefreshToken); err != nil {
		return Result{}, sessionError(err)
	}
	return authResult(pair, nil), nil
}

// Logout removes the presented refresh token from the allow-list.
func (a *App) Logout(ctx context.Context, refreshToken string) (Result, error) {
	presented, userID, err := a.verifyRefresh(refreshToken)
	if err != nil {
		return Result{}, err
	}
	if err := a.sessions.Remove(ctx, userID, presented); err != nil {
		return Result{}, sessionError(err)
	}
	return noContentResult(), nil
}

// Authenticate verifies an access token and returns its subject. It never
// consults the session cache.
func (a *App) Authenticate(accessToken string) (string, error) {
	token := store.Fingerprint(accessToken)
	if token == "" {
		return "", domain.InvalidToken()
	}
	userID, err := a.tokens.VerifyAccess(token)
	if err != nil {
		return "", domain.InvalidToken()
	}
	return userID, nil
}

// RestorePassword is disabled until email delivery exists.
func (a *App) RestorePassword(_ context.Context, _ RestorePasswordInput) (Result, error) {
	return Result{}, domain.NotImplemented("Restoring password is not available.")
}

func (a *App) verifyRefresh(raw string) (fingerprint, userID string, err error) {
	fingerprint = store.Fingerprint(raw)
	if fingerprint == "" {
		return "", "", domain.Unauthorized(msgNoSessions, "bearerRefreshToken")
	}
	userID, err = a.tokens.VerifyRefresh(fingerprint)
	if err != nil {
		return "", "", domain.InvalidToken()
	}
	return fingerprint, userID, nil
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, store.ErrNoSessions):
		return domain.Unauthorized(msgNoSessions, "bearerRefreshToken")
	case errors.Is(err, store.ErrUnknownFingerprint):
		return domain.Unauthorized(msgUnknownDevice, "bearerRefreshToken")
	default:
		return fmt.Errorf("update sessions: %w", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

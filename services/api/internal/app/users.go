package app

import (
	"context"
	"strings"

	"spoolhub/pkg/auth"
	"spoolhub/pkg/domain"
	"spoolhub/pkg/storage"
	"spoolhub/pkg/workflow"
)

func (a *App) GetUser(ctx context.Context, userID string) (Result, error) {
	user, err := a.store.Users().FindByID(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(user), nil
}

// UpdateUser changes username and/or email; collisions fail with Conflict.
func (a *App) UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (Result, error) {
	ids, err := a.runner.Run(ctx, "modify_user", func(u *workflow.Unit) error {
		user, err := u.Repos().Users().Update(u.Context(), userID, func(user *domain.User) error {
			if in.Username != nil {
				user.Username = strings.TrimSpace(*in.Username)
			}
			if in.Email != nil {
				user.Email = normalizeEmail(*in.Email)
			}
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{UserID: user.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

// ChangePassword replaces the password hash after verifying the current one.
func (a *App) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) (Result, error) {
	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return Result{}, err
	}
	_, err = a.runner.Run(ctx, "change_password", func(u *workflow.Unit) error {
		_, err := u.Repos().Users().Update(u.Context(), userID, func(user *domain.User) error {
			if !auth.CheckPassword(in.Password, user.PasswordHash) {
				return domain.InvalidCredentials(msgIncorrectPassword, "password")
			}
			user.PasswordHash = hash
			return nil
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

func (a *App) ConfirmPassword(ctx context.Context, userID string, in ConfirmPasswordInput) (Result, error) {
	user, err := a.store.Users().FindByID(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if !auth.CheckPassword(in.Password, user.PasswordHash) {
		return Result{}, domain.InvalidCredentials(msgIncorrectPassword, "password")
	}
	return noContentResult(), nil
}

// DeleteUser hard-deletes the account with everything it owns. Blobs and
// cached sessions are dropped only after the documents are gone.
func (a *App) DeleteUser(ctx context.Context, userID string) (Result, error) {
	_, err := a.runner.Run(ctx, "delete_user", func(u *workflow.Unit) error {
		ctx, repos := u.Context(), u.Repos()
		if err := repos.Users().Delete(ctx, userID); err != nil {
			return err
		}
		if err := repos.Settings().DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if err := repos.Filaments().DeleteByOwner(ctx, userID); err != nil {
			return err
		}
		if err := repos.Rolls().DeleteByOwner(ctx, userID); err != nil {
			return err
		}
		if err := repos.Orders().DeleteByOwner(ctx, userID); err != nil {
			return err
		}
		if err := repos.Projects().DeleteByOwner(ctx, userID); err != nil {
			return err
		}
		u.DeletePrefixAfterCommit(storage.UserPrefix(userID))
		u.AfterCommit("clear sessions", func(ctx context.Context) error {
			return a.sessions.Clear(ctx, userID)
		})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

func (a *App) GetSettings(ctx context.Context, userID string) (Result, error) {
	settings, err := a.store.Settings().FindByUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(settings), nil
}

func (a *App) UpdateSettings(ctx context.Context, userID string, in SettingsInput) (Result, error) {
	ids, err := a.runner.Run(ctx, "modify_settings", func(u *workflow.Unit) error {
		settings, err := u.Repos().Settings().Update(u.Context(), userID, func(s *domain.UserSettings) error {
			in.apply(s)
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{UserSettingsID: settings.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

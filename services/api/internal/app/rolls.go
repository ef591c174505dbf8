package app

import (
	"context"
	"fmt"

	"spoolhub/pkg/domain"
	"spoolhub/pkg/store"
	"spoolhub/pkg/workflow"
)

func (a *App) ListRolls(ctx context.Context, userID string) (Result, error) {
	rolls, err := a.store.Rolls().FindAll(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(rolls), nil
}

// ListRollsByFilament returns the live rolls cut from one filament.
func (a *App) ListRollsByFilament(ctx context.Context, userID, filamentID string) (Result, error) {
	rolls, err := a.store.Rolls().FindAll(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	out := make([]domain.Roll, 0, len(rolls))
	for _, r := range rolls {
		if r.FilamentID == filamentID {
			out = append(out, r)
		}
	}
	return okResult(out), nil
}

func (a *App) GetRoll(ctx context.Context, userID, id string) (Result, error) {
	roll, err := a.store.Rolls().FindOne(ctx, id, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(roll), nil
}

func (a *App) RollStatistics(ctx context.Context, userID string) (Result, error) {
	stats, err := a.store.Rolls().Statistics(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(stats), nil
}

// CreateRoll starts usedWeight at defaultWeight - actualWeight.
func (a *App) CreateRoll(ctx context.Context, userID string, in RollInput) (Result, error) {
	ids, err := a.runner.Run(ctx, "create_roll", func(u *workflow.Unit) error {
		if err := requireFilament(u.Context(), u.Repos(), userID, in.FilamentID); err != nil {
			return err
		}
		roll := domain.Roll{
			Owned:               domain.Owned{UserID: userID},
			FilamentID:          in.FilamentID,
			Description:         in.Description,
			URL:                 in.URL,
			CoolingSpeed:        in.CoolingSpeed,
			PrintingTemperature: in.PrintingTemperature,
			BedTemperature:      in.BedTemperature,
			DefaultWeight:       in.DefaultWeight,
			ActualWeight:        in.ActualWeight,
			UsedWeight:          in.DefaultWeight - in.ActualWeight,
			IsFinished:          in.IsFinished,
			IsSample:            in.IsSample,
			IsActive:            in.IsActive,
		}
		if in.Rating != nil {
			roll.Rating = *in.Rating
		}
		created, err := u.Repos().Rolls().Create(u.Context(), roll)
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{RollID: created.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return createdResult(ids), nil
}

func (a *App) UpdateRoll(ctx context.Context, userID, id string, in RollPatch) (Result, error) {
	ids, err := a.runner.Run(ctx, "modify_roll", func(u *workflow.Unit) error {
		if in.FilamentID != nil {
			if err := requireFilament(u.Context(), u.Repos(), userID, *in.FilamentID); err != nil {
				return err
			}
		}
		roll, err := u.Repos().Rolls().Update(u.Context(), id, userID, func(r *domain.Roll) error {
			in.apply(r)
			if r.DefaultWeight < r.ActualWeight {
				return domain.InvalidInput("defaultWeight must be greater than or equal to actualWeight", "defaultWeight")
			}
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{RollID: roll.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

// ConsumeRoll moves usedWeight grams from actualWeight to usedWeight under
// the row lock. The roll never goes below zero.
func (a *App) ConsumeRoll(ctx context.Context, userID, id string, in ChangeWeightInput) (Result, error) {
	ids, err := a.runner.Run(ctx, "consume_roll", func(u *workflow.Unit) error {
		roll, err := u.Repos().Rolls().Update(u.Context(), id, userID, func(r *domain.Roll) error {
			next := r.ActualWeight - in.UsedWeight
			if next < 0 {
				return domain.InsufficientQuantity(msgNotEnoughFilament, "actualWeight")
			}
			r.ActualWeight = next
			r.UsedWeight += in.UsedWeight
			r.IsActive = true
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{RollID: roll.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

func (a *App) ArchiveRoll(ctx context.Context, userID, id string) (Result, error) {
	ids, err := a.runner.Run(ctx, "archive_roll", func(u *workflow.Unit) error {
		roll, err := u.Repos().Rolls().Update(u.Context(), id, userID, func(r *domain.Roll) error {
			if r.ArchivisedAt != nil {
				return domain.InvalidInput("Roll is archivised", "archivisedAt")
			}
			now := a.now().UTC()
			r.ArchivisedAt = &now
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{RollID: roll.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

func (a *App) DeleteRoll(ctx context.Context, userID, id string, mode domain.DeleteMode) (Result, error) {
	_, err := a.runner.Run(ctx, "delete_roll", func(u *workflow.Unit) error {
		if mode == domain.DeleteHard {
			return u.Repos().Rolls().HardDelete(u.Context(), id, userID)
		}
		return u.Repos().Rolls().SoftDelete(u.Context(), id, userID)
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

func requireFilament(ctx context.Context, repos store.Repositories, userID, filamentID string) error {
	if _, err := repos.Filaments().FindOne(ctx, filamentID, userID); err != nil {
		if de := domain.AsError(err); de.Kind == domain.KindNotFound {
			return domain.NotFound("Filament", "filamentId")
		}
		return fmt.Errorf("load filament: %w", err)
	}
	return nil
}

package app

import (
	"context"
	"strings"

	"spoolhub/pkg/domain"
	"spoolhub/pkg/workflow"
)

func (a *App) ListFilaments(ctx context.Context, userID string) (Result, error) {
	filaments, err := a.store.Filaments().FindAll(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(filaments), nil
}

func (a *App) GetFilament(ctx context.Context, userID, id string) (Result, error) {
	filament, err := a.store.Filaments().FindOne(ctx, id, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(filament), nil
}

func (a *App) CreateFilament(ctx context.Context, userID string, in FilamentInput) (Result, error) {
	ids, err := a.runner.Run(ctx, "create_filament", func(u *workflow.Unit) error {
		filament, err := u.Repos().Filaments().Create(u.Context(), domain.Filament{
			Owned:       domain.Owned{UserID: userID},
			Type:        strings.TrimSpace(in.Type),
			Brand:       strings.TrimSpace(in.Brand),
			Diameter:    in.Diameter,
			Color:       strings.TrimSpace(in.Color),
			ColorHex:    in.ColorHex,
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{FilamentID: filament.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return createdResult(ids), nil
}

func (a *App) UpdateFilament(ctx context.Context, userID, id string, in FilamentPatch) (Result, error) {
	ids, err := a.runner.Run(ctx, "modify_filament", func(u *workflow.Unit) error {
		filament, err := u.Repos().Filaments().Update(u.Context(), id, userID, func(f *domain.Filament) error {
			in.apply(f)
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{FilamentID: filament.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

// DeleteFilament removes the filament and cascades to its rolls in the
// same transaction. A soft delete tolerates rolls that are already deleted.
func (a *App) DeleteFilament(ctx context.Context, userID, id string, mode domain.DeleteMode) (Result, error) {
	_, err := a.runner.Run(ctx, "delete_filament", func(u *workflow.Unit) error {
		ctx, repos := u.Context(), u.Repos()
		if mode == domain.DeleteHard {
			if err := repos.Filaments().HardDelete(ctx, id, userID); err != nil {
				return err
			}
			_, err := repos.Rolls().HardDeleteByFilament(ctx, id, userID)
			return err
		}
		if err := repos.Filaments().SoftDelete(ctx, id, userID); err != nil {
			return err
		}
		_, err := repos.Rolls().SoftDeleteByFilament(ctx, id, userID)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

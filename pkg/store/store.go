package store

import (
	"context"

	"spoolhub/pkg/domain"
)

// Mutation edits a loaded record in place. Returning an error aborts the write.
type Mutation[T any] func(*T) error

// OwnedRepository is the per-entity contract for user-scoped documents.
// Finders never return soft-deleted records.
type OwnedRepository[T any] interface {
	FindAll(ctx context.Context, ownerID string) ([]T, error)
	FindOne(ctx context.Context, id, ownerID string) (T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, id, ownerID string, mutate Mutation[T]) (T, error)
	SoftDelete(ctx context.Context, id, ownerID string) error
	HardDelete(ctx context.Context, id, ownerID string) error
	DeleteByOwner(ctx context.Context, ownerID string) error
}

type FilamentRepository interface {
	OwnedRepository[domain.Filament]
}

type RollRepository interface {
	OwnedRepository[domain.Roll]
	// SoftDeleteByFilament flags every live roll of the filament and
	// returns how many rows changed. Already-deleted rolls are skipped.
	SoftDeleteByFilament(ctx context.Context, filamentID, ownerID string) (int64, error)
	HardDeleteByFilament(ctx context.Context, filamentID, ownerID string) (int64, error)
	Statistics(ctx context.Context, ownerID string) (domain.RollStatistics, error)
}

type OrderRepository interface {
	OwnedRepository[domain.Order]
}

type ProjectRepository interface {
	OwnedRepository[domain.Project]
	// FindByName also matches soft-deleted projects: their blobs still live
	// under the name's prefix.
	FindByName(ctx context.Context, ownerID, name string) (domain.Project, bool, error)
}

// UserRepository is the credential store.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	// Create fails with a Conflict listing the colliding unique fields.
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, id string, mutate Mutation[domain.User]) (domain.User, error)
	Delete(ctx context.Context, id string) error
}

type SettingsRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.UserSettings, error)
	Create(ctx context.Context, settings domain.UserSettings) (domain.UserSettings, error)
	Update(ctx context.Context, userID string, mutate Mutation[domain.UserSettings]) (domain.UserSettings, error)
	// NextOrderNumber increments the order counter and returns the new value.
	NextOrderNumber(ctx context.Context, userID string) (int, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// Repositories groups the per-entity repositories. Both Store and Tx
// implement it; repositories obtained from a Tx run inside that transaction.
type Repositories interface {
	Users() UserRepository
	Settings() SettingsRepository
	Filaments() FilamentRepository
	Rolls() RollRepository
	Orders() OrderRepository
	Projects() ProjectRepository
}

// Tx is a document-store transaction handle. It is owned by one caller
// and must not be shared across concurrent operations.
type Tx interface {
	Repositories
	Commit() error
	Rollback() error
}

// Store is the document store.
type Store interface {
	Repositories
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"spoolhub/pkg/domain"
)

func TestMemoryStoreSoftDeleteHidesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f, err := s.Filaments().Create(ctx, domain.Filament{Owned: domain.Owned{UserID: "u1"}, Name: "PLA"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Filaments().SoftDelete(ctx, f.ID, "u1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := s.Filaments().FindOne(ctx, f.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after soft delete, got %v", err)
	}
	all, err := s.Filaments().FindAll(ctx, "u1")
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", all, err)
	}
	if err := s.Filaments().SoftDelete(ctx, f.ID, "u1"); !errors.Is(err, domain.ErrAlreadyDeleted) {
		t.Fatalf("expected already deleted, got %v", err)
	}
	if err := s.Filaments().HardDelete(ctx, f.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected hard delete of soft-deleted record to be not found, got %v", err)
	}
}

func TestMemoryStoreOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f, _ := s.Filaments().Create(ctx, domain.Filament{Owned: domain.Owned{UserID: "u1"}, Name: "PLA"})
	if _, err := s.Filaments().FindOne(ctx, f.ID, "u2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected other owner to get not found, got %v", err)
	}
	if err := s.Filaments().SoftDelete(ctx, f.ID, "u2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected other owner soft delete to be not found, got %v", err)
	}
	_, err := s.Filaments().Update(ctx, f.ID, "u2", func(f *domain.Filament) error { f.Name = "x"; return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected other owner update to be not found, got %v", err)
	}
}

func TestMemoryStoreUpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f, _ := s.Filaments().Create(ctx, domain.Filament{Owned: domain.Owned{UserID: "u1"}, Name: "PLA"})
	updated, err := s.Filaments().Update(ctx, f.ID, "u1", func(v *domain.Filament) error {
		v.Name = "PETG"
		v.ID = "hijack"
		v.UserID = "u2"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != f.ID || updated.UserID != "u1" || updated.Name != "PETG" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if updated.UpdatedAt.Before(f.UpdatedAt) {
		t.Fatalf("updatedAt moved backwards")
	}
}

func TestMemoryStoreMutationErrorAbortsWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f, _ := s.Filaments().Create(ctx, domain.Filament{Owned: domain.Owned{UserID: "u1"}, Name: "PLA"})
	reject := domain.InvalidInput("nope", "name")
	_, err := s.Filaments().Update(ctx, f.ID, "u1", func(v *domain.Filament) error {
		v.Name = "changed"
		return reject
	})
	if !errors.Is(err, reject) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	got, _ := s.Filaments().FindOne(ctx, f.ID, "u1")
	if got.Name != "PLA" {
		t.Fatalf("rejected mutation was persisted: %+v", got)
	}
}

func TestMemoryStoreRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Filaments().Create(ctx, domain.Filament{Owned: domain.Owned{UserID: "u1"}, Name: "PLA"}); err != nil {
		t.Fatalf("create in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	all, _ := s.Filaments().FindAll(ctx, "u1")
	if len(all) != 0 {
		t.Fatalf("expected rollback to discard writes, got %v", all)
	}
	if _, err := tx.Filaments().FindAll(ctx, "u1"); err == nil {
		t.Fatalf("expected finished tx to reject use")
	}
}

func TestMemoryStoreCommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tx, _ := s.Begin(ctx)
	_, _ = tx.Filaments().Create(ctx, domain.Filament{Owned: domain.Owned{UserID: "u1"}, Name: "PLA"})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit should be a no-op: %v", err)
	}
	all, _ := s.Filaments().FindAll(ctx, "u1")
	if len(all) != 1 {
		t.Fatalf("expected committed filament, got %v", all)
	}
}

func TestMemoryStoreUserConflictListsFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Users().Create(ctx, domain.User{Username: "alice", Email: "a@x.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := s.Users().Create(ctx, domain.User{Username: "alice", Email: "A@x.com"})
	de := domain.AsError(err)
	if de == nil || de.Kind != domain.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !slices.Equal(de.Issues, []string{"username", "email"}) {
		t.Fatalf("unexpected conflict issues %v", de.Issues)
	}
	_, err = s.Users().Create(ctx, domain.User{Username: "bob", Email: "a@x.com"})
	if de := domain.AsError(err); de == nil || !slices.Equal(de.Issues, []string{"email"}) {
		t.Fatalf("expected email-only conflict, got %v", err)
	}
}

func TestMemoryStoreRollCascade(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r1, _ := s.Rolls().Create(ctx, domain.Roll{Owned: domain.Owned{UserID: "u1"}, FilamentID: "f1"})
	_, _ = s.Rolls().Create(ctx, domain.Roll{Owned: domain.Owned{UserID: "u1"}, FilamentID: "f1"})
	_, _ = s.Rolls().Create(ctx, domain.Roll{Owned: domain.Owned{UserID: "u1"}, FilamentID: "f2"})
	if err := s.Rolls().SoftDelete(ctx, r1.ID, "u1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	n, err := s.Rolls().SoftDeleteByFilament(ctx, "f1", "u1")
	if err != nil || n != 1 {
		t.Fatalf("expected one cascaded roll, n=%d err=%v", n, err)
	}
	n, err = s.Rolls().HardDeleteByFilament(ctx, "f1", "u1")
	if err != nil || n != 2 {
		t.Fatalf("expected both f1 rolls removed, n=%d err=%v", n, err)
	}
	left, _ := s.Rolls().FindAll(ctx, "u1")
	if len(left) != 1 || left[0].FilamentID != "f2" {
		t.Fatalf("unexpected remaining rolls %v", left)
	}
}

func TestMemoryStoreRollStatistics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Rolls().Create(ctx, domain.Roll{Owned: domain.Owned{UserID: "u1"}, ActualWeight: 700, UsedWeight: 300, Rating: 8, CoolingSpeed: 50})
	_, _ = s.Rolls().Create(ctx, domain.Roll{Owned: domain.Owned{UserID: "u1"}, ActualWeight: 100, UsedWeight: 900, Rating: 4, CoolingSpeed: 80})
	stats, err := s.Rolls().Statistics(ctx, "u1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalActualWeight != 800 || stats.TotalUsedWeight != 1200 || stats.OverallRating != 6 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.LastCoolingSpeed != 50 && stats.LastCoolingSpeed != 80 {
		t.Fatalf("unexpected last cooling speed %+v", stats)
	}
}

func TestMemoryStoreOrderNumberingConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Settings().Create(ctx, domain.DefaultSettings("u1")); err != nil {
		t.Fatalf("create settings: %v", err)
	}
	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Settings().NextOrderNumber(ctx, "u1")
			if err != nil {
				t.Errorf("next number: %v", err)
				return
			}
			mu.Lock()
			numbers = append(numbers, n)
			mu.Unlock()
		}()
	}
	wg.Wait()
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != i+1 {
			t.Fatalf("numbers have gaps or repeats: %v", numbers)
		}
	}
}

func TestMemoryStoreSettingsUpdateProtectsCounter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Settings().Create(ctx, domain.DefaultSettings("u1"))
	_, _ = s.Settings().NextOrderNumber(ctx, "u1")
	got, err := s.Settings().Update(ctx, "u1", func(v *domain.UserSettings) error {
		v.OverallSettings.Language = "pl"
		v.OrdersSettings.Numbering = 99
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.OverallSettings.Language != "pl" || got.OrdersSettings.Numbering != 1 {
		t.Fatalf("unexpected settings %+v", got)
	}
}

func TestMemoryStoreProjectFindByName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p, _ := s.Projects().Create(ctx, domain.Project{Owned: domain.Owned{UserID: "u1"}, Name: "gear"})
	got, ok, err := s.Projects().FindByName(ctx, "u1", "gear")
	if err != nil || !ok || got.ID != p.ID {
		t.Fatalf("find by name: ok=%v err=%v", ok, err)
	}
	_ = s.Projects().SoftDelete(ctx, p.ID, "u1")
	if got, ok, _ := s.Projects().FindByName(ctx, "u1", "gear"); !ok || !got.IsDeleted {
		t.Fatalf("soft-deleted project must keep its name reserved: ok=%v", ok)
	}
	if _, ok, _ := s.Projects().FindByName(ctx, "u2", "gear"); ok {
		t.Fatalf("names are scoped to the owner")
	}
	bolt, _ := s.Projects().Create(ctx, domain.Project{Owned: domain.Owned{UserID: "u1"}, Name: "bolt"})
	if err := s.Projects().HardDelete(ctx, bolt.ID, "u1"); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if _, ok, _ := s.Projects().FindByName(ctx, "u1", "bolt"); ok {
		t.Fatalf("hard-deleted project should free its name")
	}
}

package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"spoolhub/pkg/domain"
)

// MemoryStore keeps documents in process memory. Transactions are
// serialized and work on a copy of the state that replaces the live state
// on commit.
type MemoryStore struct {
	sem   chan struct{}
	state *memState
	memRepositories
}

// NewMemoryStore constructs an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		sem:   make(chan struct{}, 1),
		state: newMemState(),
	}
	s.memRepositories = newMemRepositories(s.autocommit)
	return s
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) release() { <-s.sem }

func (s *MemoryStore) autocommit(ctx context.Context, fn func(*memState) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	next := s.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// Begin blocks until no other transaction is open.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	tx := &memoryTx{store: s, state: s.state.clone()}
	tx.memRepositories = newMemRepositories(func(_ context.Context, fn func(*memState) error) error {
		if tx.done {
			return errors.New("transaction already finished")
		}
		return fn(tx.state)
	})
	return tx, nil
}

func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	store *MemoryStore
	state *memState
	done  bool
	memRepositories
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	t.store.state = t.state
	t.store.release()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.release()
	return nil
}

type memState struct {
	users     map[string]domain.User
	settings  map[string]domain.UserSettings // userID -> settings
	filaments map[string]domain.Filament
	rolls     map[string]domain.Roll
	orders    map[string]domain.Order
	projects  map[string]domain.Project
}

func newMemState() *memState {
	return &memState{
		users:     make(map[string]domain.User),
		settings:  make(map[string]domain.UserSettings),
		filaments: make(map[string]domain.Filament),
		rolls:     make(map[string]domain.Roll),
		orders:    make(map[string]domain.Order),
		projects:  make(map[string]domain.Project),
	}
}

func (s *memState) clone() *memState {
	next := newMemState()
	for k, v := range s.users {
		next.users[k] = v
	}
	for k, v := range s.settings {
		next.settings[k] = v
	}
	for k, v := range s.filaments {
		next.filaments[k] = v
	}
	for k, v := range s.rolls {
		next.rolls[k] = v
	}
	for k, v := range s.orders {
		next.orders[k] = cloneOrder(v)
	}
	for k, v := range s.projects {
		next.projects[k] = cloneProject(v)
	}
	return next
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func cloneProject(p domain.Project) domain.Project {
	p.Files = slices.Clone(p.Files)
	return p
}

func identity[T any](v T) T { return v }

type memRunner func(ctx context.Context, fn func(*memState) error) error

type memRepositories struct {
	users     *memUserRepo
	settings  *memSettingsRepo
	filaments *memFilamentRepo
	rolls     *memRollRepo
	orders    *memOrderRepo
	projects  *memProjectRepo
}

func newMemRepositories(run memRunner) memRepositories {
	return memRepositories{
		users:    &memUserRepo{run: run},
		settings: &memSettingsRepo{run: run},
		filaments: &memFilamentRepo{newMemOwnedRepo[domain.Filament](run, "Filament",
			func(s *memState) map[string]domain.Filament { return s.filaments }, identity[domain.Filament])},
		rolls: &memRollRepo{newMemOwnedRepo[domain.Roll](run, "Roll",
			func(s *memState) map[string]domain.Roll { return s.rolls }, identity[domain.Roll])},
		orders: &memOrderRepo{newMemOwnedRepo[domain.Order](run, "Order",
			func(s *memState) map[string]domain.Order { return s.orders }, cloneOrder)},
		projects: &memProjectRepo{newMemOwnedRepo[domain.Project](run, "Project",
			func(s *memState) map[string]domain.Project { return s.projects }, cloneProject)},
	}
}

func (r memRepositories) Users() UserRepository         { return r.users }
func (r memRepositories) Settings() SettingsRepository  { return r.settings }
func (r memRepositories) Filaments() FilamentRepository { return r.filaments }
func (r memRepositories) Rolls() RollRepository         { return r.rolls }
func (r memRepositories) Orders() OrderRepository       { return r.orders }
func (r memRepositories) Projects() ProjectRepository   { return r.projects }

type memOwnedRepo[T any, PT recordPtr[T]] struct {
	run    memRunner
	entity string
	table  func(*memState) map[string]T
	copyOf func(T) T
}

func newMemOwnedRepo[T any, PT recordPtr[T]](run memRunner, entity string, table func(*memState) map[string]T, copyOf func(T) T) *memOwnedRepo[T, PT] {
	return &memOwnedRepo[T, PT]{run: run, entity: entity, table: table, copyOf: copyOf}
}

func (r *memOwnedRepo[T, PT]) owned(v *T) *domain.Owned { return PT(v).Record() }

func (r *memOwnedRepo[T, PT]) live(s *memState, id, ownerID string) (T, bool) {
	v, ok := r.table(s)[id]
	if !ok {
		return v, false
	}
	rec := r.owned(&v)
	if rec.UserID != ownerID || rec.IsDeleted {
		return v, false
	}
	return v, true
}

func (r *memOwnedRepo[T, PT]) FindAll(ctx context.Context, ownerID string) ([]T, error) {
	var out []T
	err := r.run(ctx, func(s *memState) error {
		for _, v := range r.table(s) {
			rec := r.owned(&v)
			if rec.UserID == ownerID && !rec.IsDeleted {
				out = append(out, r.copyOf(v))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := r.owned(&out[i]), r.owned(&out[j])
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if out == nil {
		out = []T{}
	}
	return out, err
}

func (r *memOwnedRepo[T, PT]) FindOne(ctx context.Context, id, ownerID string) (T, error) {
	var out T
	err := r.run(ctx, func(s *memState) error {
		v, ok := r.live(s, id, ownerID)
		if !ok {
			return domain.NotFound(r.entity)
		}
		out = r.copyOf(v)
		return nil
	})
	return out, err
}

func (r *memOwnedRepo[T, PT]) Create(ctx context.Context, entity T) (T, error) {
	entity = r.copyOf(entity)
	rec := r.owned(&entity)
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.IsDeleted = false
	rec.CreatedAt = now
	rec.UpdatedAt = now
	err := r.run(ctx, func(s *memState) error {
		if _, exists := r.table(s)[rec.ID]; exists {
			return domain.Conflict(r.entity+" already exists", "id")
		}
		r.table(s)[rec.ID] = r.copyOf(entity)
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return entity, nil
}

func (r *memOwnedRepo[T, PT]) Update(ctx context.Context, id, ownerID string, mutate Mutation[T]) (T, error) {
	var out T
	err := r.run(ctx, func(s *memState) error {
		v, ok := r.live(s, id, ownerID)
		if !ok {
			return domain.NotFound(r.entity)
		}
		entity := r.copyOf(v)
		before := *r.owned(&v)
		if err := mutate(&entity); err != nil {
			return err
		}
		rec := r.owned(&entity)
		rec.ID = before.ID
		rec.UserID = before.UserID
		rec.CreatedAt = before.CreatedAt
		rec.IsDeleted = before.IsDeleted
		rec.UpdatedAt = time.Now().UTC()
		r.table(s)[id] = r.copyOf(entity)
		out = entity
		return nil
	})
	return out, err
}

func (r *memOwnedRepo[T, PT]) SoftDelete(ctx context.Context, id, ownerID string) error {
	return r.run(ctx, func(s *memState) error {
		v, ok := r.table(s)[id]
		if !ok || r.owned(&v).UserID != ownerID {
			return domain.NotFound(r.entity)
		}
		rec := r.owned(&v)
		if rec.IsDeleted {
			return domain.AlreadyDeleted()
		}
		rec.IsDeleted = true
		rec.UpdatedAt = time.Now().UTC()
		r.table(s)[id] = v
		return nil
	})
}

func (r *memOwnedRepo[T, PT]) HardDelete(ctx context.Context, id, ownerID string) error {
	return r.run(ctx, func(s *memState) error {
		if _, ok := r.live(s, id, ownerID); !ok {
			return domain.NotFound(r.entity)
		}
		delete(r.table(s), id)
		return nil
	})
}

func (r *memOwnedRepo[T, PT]) DeleteByOwner(ctx context.Context, ownerID string) error {
	return r.run(ctx, func(s *memState) error {
		table := r.table(s)
		for id, v := range table {
			if r.owned(&v).UserID == ownerID {
				delete(table, id)
			}
		}
		return nil
	})
}

type memFilamentRepo struct {
	*memOwnedRepo[domain.Filament, *domain.Filament]
}

type memOrderRepo struct {
	*memOwnedRepo[domain.Order, *domain.Order]
}

type memRollRepo struct {
	*memOwnedRepo[domain.Roll, *domain.Roll]
}

func (r *memRollRepo) SoftDeleteByFilament(ctx context.Context, filamentID, ownerID string) (int64, error) {
	var n int64
	err := r.run(ctx, func(s *memState) error {
		now := time.Now().UTC()
		for id, roll := range s.rolls {
			if roll.FilamentID != filamentID || roll.UserID != ownerID || roll.IsDeleted {
				continue
			}
			roll.IsDeleted = true
			roll.UpdatedAt = now
			s.rolls[id] = roll
			n++
		}
		return nil
	})
	return n, err
}

func (r *memRollRepo) HardDeleteByFilament(ctx context.Context, filamentID, ownerID string) (int64, error) {
	var n int64
	err := r.run(ctx, func(s *memState) error {
		for id, roll := range s.rolls {
			if roll.FilamentID == filamentID && roll.UserID == ownerID {
				delete(s.rolls, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memRollRepo) Statistics(ctx context.Context, ownerID string) (domain.RollStatistics, error) {
	var stats domain.RollStatistics
	err := r.run(ctx, func(s *memState) error {
		var (
			count  int
			rating int
			last   *domain.Roll
		)
		for _, roll := range s.rolls {
			if roll.UserID != ownerID || roll.IsDeleted {
				continue
			}
			stats.TotalActualWeight += roll.ActualWeight
			stats.TotalUsedWeight += roll.UsedWeight
			rating += roll.Rating
			count++
			if last == nil || roll.CreatedAt.After(last.CreatedAt) {
				cp := roll
				last = &cp
			}
		}
		if count > 0 {
			stats.OverallRating = float64(rating) / float64(count)
		}
		if last != nil {
			stats.LastCoolingSpeed = last.CoolingSpeed
			stats.LastPrintingTemperature = last.PrintingTemperature
			stats.LastBedTemperature = last.BedTemperature
		}
		return nil
	})
	return stats, err
}

type memProjectRepo struct {
	*memOwnedRepo[domain.Project, *domain.Project]
}

func (r *memProjectRepo) FindByName(ctx context.Context, ownerID, name string) (domain.Project, bool, error) {
	var (
		out   domain.Project
		found bool
	)
	err := r.run(ctx, func(s *memState) error {
		for _, p := range s.projects {
			if p.UserID == ownerID && p.Name == name {
				out, found = cloneProject(p), true
				return nil
			}
		}
		return nil
	})
	return out, found, err
}

type memUserRepo struct {
	run memRunner
}

func memUserCollisions(s *memState, u domain.User) []string {
	var username, email bool
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		username = username || other.Username == u.Username
		email = email || strings.EqualFold(other.Email, u.Email)
	}
	var fields []string
	if username {
		fields = append(fields, "username")
	}
	if email {
		fields = append(fields, "email")
	}
	return fields
}

func (r *memUserRepo) FindByID(ctx context.Context, id string) (domain.User, error) {
	var out domain.User
	err := r.run(ctx, func(s *memState) error {
		u, ok := s.users[id]
		if !ok {
			return domain.NotFound("User")
		}
		out = u
		return nil
	})
	return out, err
}

func (r *memUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	var out domain.User
	err := r.run(ctx, func(s *memState) error {
		for _, u := range s.users {
			if strings.EqualFold(u.Email, email) {
				out = u
				return nil
			}
		}
		return domain.NotFound("User", "email")
	})
	return out, err
}

func (r *memUserRepo) Create(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	err := r.run(ctx, func(s *memState) error {
		if fields := memUserCollisions(s, u); len(fields) > 0 {
			return domain.UserAlreadyExists(fields...)
		}
		s.users[u.ID] = u
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *memUserRepo) Update(ctx context.Context, id string, mutate Mutation[domain.User]) (domain.User, error) {
	var out domain.User
	err := r.run(ctx, func(s *memState) error {
		current, ok := s.users[id]
		if !ok {
			return domain.NotFound("User")
		}
		u := current
		if err := mutate(&u); err != nil {
			return err
		}
		u.ID = current.ID
		u.CreatedAt = current.CreatedAt
		u.UpdatedAt = time.Now().UTC()
		if fields := memUserCollisions(s, u); len(fields) > 0 {
			return domain.UserAlreadyExists(fields...)
		}
		s.users[id] = u
		out = u
		return nil
	})
	return out, err
}

func (r *memUserRepo) Delete(ctx context.Context, id string) error {
	return r.run(ctx, func(s *memState) error {
		if _, ok := s.users[id]; !ok {
			return domain.NotFound("User")
		}
		delete(s.users, id)
		return nil
	})
}

type memSettingsRepo struct {
	run memRunner
}

func (r *memSettingsRepo) FindByUser(ctx context.Context, userID string) (domain.UserSettings, error) {
	var out domain.UserSettings
	err := r.run(ctx, func(s *memState) error {
		settings, ok := s.settings[userID]
		if !ok {
			return domain.NotFound("Settings")
		}
		out = settings
		return nil
	})
	return out, err
}

func (r *memSettingsRepo) Create(ctx context.Context, settings domain.UserSettings) (domain.UserSettings, error) {
	now := time.Now().UTC()
	if settings.ID == "" {
		settings.ID = uuid.NewString()
	}
	settings.CreatedAt = now
	settings.UpdatedAt = now
	err := r.run(ctx, func(s *memState) error {
		if _, exists := s.settings[settings.UserID]; exists {
			return domain.Conflict("Settings already exist", "userId")
		}
		s.settings[settings.UserID] = settings
		return nil
	})
	if err != nil {
		return domain.UserSettings{}, err
	}
	return settings, nil
}

func (r *memSettingsRepo) Update(ctx context.Context, userID string, mutate Mutation[domain.UserSettings]) (domain.UserSettings, error) {
	var out domain.UserSettings
	err := r.run(ctx, func(s *memState) error {
		current, ok := s.settings[userID]
		if !ok {
			return domain.NotFound("Settings")
		}
		next := current
		if err := mutate(&next); err != nil {
			return err
		}
		next.ID = current.ID
		next.UserID = current.UserID
		next.CreatedAt = current.CreatedAt
		next.OrdersSettings.Numbering = current.OrdersSettings.Numbering
		next.UpdatedAt = time.Now().UTC()
		s.settings[userID] = next
		out = next
		return nil
	})
	return out, err
}

func (r *memSettingsRepo) NextOrderNumber(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.run(ctx, func(s *memState) error {
		settings, ok := s.settings[userID]
		if !ok {
			return domain.NotFound("Settings")
		}
		settings.OrdersSettings.Numbering++
		settings.UpdatedAt = time.Now().UTC()
		s.settings[userID] = settings
		n = settings.OrdersSettings.Numbering
		return nil
	})
	return n, err
}

func (r *memSettingsRepo) DeleteByUser(ctx context.Context, userID string) error {
	return r.run(ctx, func(s *memState) error {
		delete(s.settings, userID)
		return nil
	})
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"spoolhub/pkg/domain"
)

const migrateLockID int64 = 51870213

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
	gormRepositories
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&UserSettingsModel{},
			&FilamentModel{},
			&RollModel{},
			&OrderModel{},
			&ProjectModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return NewGormStoreFromDB(db), nil
}

// NewGormStoreFromDB wraps an already-opened and migrated connection.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db, gormRepositories: newGormRepositories(db, false)}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Begin opens a transaction. Repositories of the returned Tx run inside it.
func (s *GormStore) Begin(ctx context.Context) (Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &gormTx{db: tx, gormRepositories: newGormRepositories(tx, true)}, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db   *gorm.DB
	done bool
	gormRepositories
}

func (t *gormTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	if err := t.db.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback is a no-op once the transaction finished.
func (t *gormTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.db.Rollback().Error; err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

type gormRepositories struct {
	users     *gormUserRepo
	settings  *gormSettingsRepo
	filaments *gormFilamentRepo
	rolls     *gormRollRepo
	orders    *gormOrderRepo
	projects  *gormProjectRepo
}

func newGormRepositories(db *gorm.DB, inTx bool) gormRepositories {
	base := gormBase{db: db, inTx: inTx}
	return gormRepositories{
		users:    &gormUserRepo{gormBase: base},
		settings: &gormSettingsRepo{gormBase: base},
		filaments: &gormFilamentRepo{newOwnedRepo[domain.Filament, FilamentModel](
			base, "Filament", filamentToModel, filamentFromModel)},
		rolls: &gormRollRepo{newOwnedRepo[domain.Roll, RollModel](
			base, "Roll", rollToModel, rollFromModel)},
		orders: &gormOrderRepo{newOwnedRepo[domain.Order, OrderModel](
			base, "Order", orderToModel, orderFromModel)},
		projects: &gormProjectRepo{newOwnedRepo[domain.Project, ProjectModel](
			base, "Project", projectToModel, projectFromModel)},
	}
}

func (r gormRepositories) Users() UserRepository         { return r.users }
func (r gormRepositories) Settings() SettingsRepository  { return r.settings }
func (r gormRepositories) Filaments() FilamentRepository { return r.filaments }
func (r gormRepositories) Rolls() RollRepository         { return r.rolls }
func (r gormRepositories) Orders() OrderRepository       { return r.orders }
func (r gormRepositories) Projects() ProjectRepository   { return r.projects }

// gormBase runs write paths in the caller's transaction when there is one,
// otherwise in a fresh one.
type gormBase struct {
	db   *gorm.DB
	inTx bool
}

func (b gormBase) conn(ctx context.Context) *gorm.DB {
	if b.inTx {
		return b.db
	}
	return b.db.WithContext(ctx)
}

func (b gormBase) atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if b.inTx {
		return fn(b.db)
	}
	return b.db.WithContext(ctx).Transaction(fn)
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

type recordPtr[T any] interface {
	*T
	Record() *domain.Owned
}

// gormOwnedRepo implements OwnedRepository for one entity/model pair.
type gormOwnedRepo[T any, M any, PT recordPtr[T]] struct {
	gormBase
	entity    string
	toModel   func(T) M
	fromModel func(M) T
}

func newOwnedRepo[T any, M any, PT recordPtr[T]](base gormBase, entity string, to func(T) M, from func(M) T) *gormOwnedRepo[T, M, PT] {
	return &gormOwnedRepo[T, M, PT]{gormBase: base, entity: entity, toModel: to, fromModel: from}
}

func (r *gormOwnedRepo[T, M, PT]) FindAll(ctx context.Context, ownerID string) ([]T, error) {
	var models []M
	if err := r.conn(ctx).
		Where("user_id = ? AND is_deleted = ?", ownerID, false).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list %s: %w", strings.ToLower(r.entity), err)
	}
	out := make([]T, 0, len(models))
	for _, m := range models {
		out = append(out, r.fromModel(m))
	}
	return out, nil
}

func (r *gormOwnedRepo[T, M, PT]) FindOne(ctx context.Context, id, ownerID string) (T, error) {
	return r.load(r.conn(ctx), id, ownerID, false)
}

func (r *gormOwnedRepo[T, M, PT]) load(tx *gorm.DB, id, ownerID string, lock bool) (T, error) {
	var zero T
	var model M
	q := tx
	if lock {
		q = forUpdate(q)
	}
	if err := q.Where("id = ? AND user_id = ? AND is_deleted = ?", id, ownerID, false).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, domain.NotFound(r.entity)
		}
		return zero, fmt.Errorf("load %s: %w", strings.ToLower(r.entity), err)
	}
	return r.fromModel(model), nil
}

func (r *gormOwnedRepo[T, M, PT]) Create(ctx context.Context, entity T) (T, error) {
	rec := PT(&entity).Record()
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.IsDeleted = false
	rec.CreatedAt = now
	rec.UpdatedAt = now
	model := r.toModel(entity)
	if err := r.conn(ctx).Create(&model).Error; err != nil {
		var zero T
		return zero, fmt.Errorf("create %s: %w", strings.ToLower(r.entity), err)
	}
	return entity, nil
}

func (r *gormOwnedRepo[T, M, PT]) Update(ctx context.Context, id, ownerID string, mutate Mutation[T]) (T, error) {
	var out T
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		entity, err := r.load(tx, id, ownerID, true)
		if err != nil {
			return err
		}
		before := *PT(&entity).Record()
		if err := mutate(&entity); err != nil {
			return err
		}
		rec := PT(&entity).Record()
		rec.ID = before.ID
		rec.UserID = before.UserID
		rec.CreatedAt = before.CreatedAt
		rec.IsDeleted = before.IsDeleted
		rec.UpdatedAt = time.Now().UTC()
		model := r.toModel(entity)
		if err := tx.Save(&model).Error; err != nil {
			return fmt.Errorf("update %s: %w", strings.ToLower(r.entity), err)
		}
		out = entity
		return nil
	})
	return out, err
}

func (r *gormOwnedRepo[T, M, PT]) SoftDelete(ctx context.Context, id, ownerID string) error {
	return r.atomic(ctx, func(tx *gorm.DB) error {
		var model M
		if err := forUpdate(tx).Where("id = ? AND user_id = ?", id, ownerID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFound(r.entity)
			}
			return fmt.Errorf("load %s: %w", strings.ToLower(r.entity), err)
		}
		entity := r.fromModel(model)
		if PT(&entity).Record().IsDeleted {
			return domain.AlreadyDeleted()
		}
		res := tx.Model(new(M)).
			Where("id = ? AND user_id = ?", id, ownerID).
			Updates(map[string]any{"is_deleted": true, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return fmt.Errorf("soft delete %s: %w", strings.ToLower(r.entity), res.Error)
		}
		return nil
	})
}

func (r *gormOwnedRepo[T, M, PT]) HardDelete(ctx context.Context, id, ownerID string) error {
	res := r.conn(ctx).Where("id = ? AND user_id = ? AND is_deleted = ?", id, ownerID, false).Delete(new(M))
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", strings.ToLower(r.entity), res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound(r.entity)
	}
	return nil
}

func (r *gormOwnedRepo[T, M, PT]) DeleteByOwner(ctx context.Context, ownerID string) error {
	if err := r.conn(ctx).Where("user_id = ?", ownerID).Delete(new(M)).Error; err != nil {
		return fmt.Errorf("delete %s by owner: %w", strings.ToLower(r.entity), err)
	}
	return nil
}

type gormFilamentRepo struct {
	*gormOwnedRepo[domain.Filament, FilamentModel, *domain.Filament]
}

type gormOrderRepo struct {
	*gormOwnedRepo[domain.Order, OrderModel, *domain.Order]
}

type gormRollRepo struct {
	*gormOwnedRepo[domain.Roll, RollModel, *domain.Roll]
}

func (r *gormRollRepo) SoftDeleteByFilament(ctx context.Context, filamentID, ownerID string) (int64, error) {
	res := r.conn(ctx).Model(&RollModel{}).
		Where("filament_id = ? AND user_id = ? AND is_deleted = ?", filamentID, ownerID, false).
		Updates(map[string]any{"is_deleted": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("soft delete rolls: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *gormRollRepo) HardDeleteByFilament(ctx context.Context, filamentID, ownerID string) (int64, error) {
	res := r.conn(ctx).Where("filament_id = ? AND user_id = ?", filamentID, ownerID).Delete(&RollModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete rolls: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *gormRollRepo) Statistics(ctx context.Context, ownerID string) (domain.RollStatistics, error) {
	var agg struct {
		TotalActualWeight float64
		TotalUsedWeight   float64
		OverallRating     float64
	}
	db := r.conn(ctx)
	if err := db.Model(&RollModel{}).
		Select("COALESCE(SUM(actual_weight), 0) AS total_actual_weight, "+
			"COALESCE(SUM(used_weight), 0) AS total_used_weight, "+
			"COALESCE(AVG(rating), 0) AS overall_rating").
		Where("user_id = ? AND is_deleted = ?", ownerID, false).
		Scan(&agg).Error; err != nil {
		return domain.RollStatistics{}, fmt.Errorf("roll statistics: %w", err)
	}
	stats := domain.RollStatistics{
		TotalActualWeight: agg.TotalActualWeight,
		TotalUsedWeight:   agg.TotalUsedWeight,
		OverallRating:     agg.OverallRating,
	}
	var last RollModel
	err := db.Where("user_id = ? AND is_deleted = ?", ownerID, false).Order("created_at DESC").First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RollStatistics{}, fmt.Errorf("last roll: %w", err)
	}
	if err == nil {
		stats.LastCoolingSpeed = last.CoolingSpeed
		stats.LastPrintingTemperature = last.PrintingTemperature
		stats.LastBedTemperature = last.BedTemperature
	}
	return stats, nil
}

type gormProjectRepo struct {
	*gormOwnedRepo[domain.Project, ProjectModel, *domain.Project]
}

func (r *gormProjectRepo) FindByName(ctx context.Context, ownerID, name string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := r.conn(ctx).Where("user_id = ? AND name = ?", ownerID, name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, fmt.Errorf("find project by name: %w", err)
	}
	return projectFromModel(model), true, nil
}

type gormUserRepo struct {
	gormBase
}

func (r *gormUserRepo) FindByID(ctx context.Context, id string) (domain.User, error) {
	var model UserModel
	if err := r.conn(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.NotFound("User")
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return userFromModel(model), nil
}

func (r *gormUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	var model UserModel
	if err := r.conn(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, domain.NotFound("User", "email")
		}
		return domain.User{}, fmt.Errorf("load user by email: %w", err)
	}
	return userFromModel(model), nil
}

// collisions returns which unique fields of u are taken by another user.
func (r *gormUserRepo) collisions(tx *gorm.DB, u domain.User) ([]string, error) {
	var taken []UserModel
	if err := tx.Select("id", "username", "email").
		Where("(username = ? OR email = ?) AND id <> ?", u.Username, u.Email, u.ID).
		Find(&taken).Error; err != nil {
		return nil, fmt.Errorf("check user uniqueness: %w", err)
	}
	var fields []string
	var username, email bool
	for _, m := range taken {
		username = username || m.Username == u.Username
		email = email || m.Email == u.Email
	}
	if username {
		fields = append(fields, "username")
	}
	if email {
		fields = append(fields, "email")
	}
	return fields, nil
}

func (r *gormUserRepo) Create(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		fields, err := r.collisions(tx, u)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			return domain.UserAlreadyExists(fields...)
		}
		model := userToModel(u)
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.UserAlreadyExists("username", "email")
			}
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *gormUserRepo) Update(ctx context.Context, id string, mutate Mutation[domain.User]) (domain.User, error) {
	var out domain.User
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		var model UserModel
		if err := forUpdate(tx).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFound("User")
			}
			return fmt.Errorf("load user: %w", err)
		}
		u := userFromModel(model)
		if err := mutate(&u); err != nil {
			return err
		}
		u.ID = model.ID
		u.CreatedAt = model.CreatedAt
		u.UpdatedAt = time.Now().UTC()
		fields, err := r.collisions(tx, u)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			return domain.UserAlreadyExists(fields...)
		}
		updated := userToModel(u)
		if err := tx.Save(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.UserAlreadyExists("username", "email")
			}
			return fmt.Errorf("update user: %w", err)
		}
		out = u
		return nil
	})
	return out, err
}

func (r *gormUserRepo) Delete(ctx context.Context, id string) error {
	res := r.conn(ctx).Delete(&UserModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NotFound("User")
	}
	return nil
}

type gormSettingsRepo struct {
	gormBase
}

func (r *gormSettingsRepo) FindByUser(ctx context.Context, userID string) (domain.UserSettings, error) {
	var model UserSettingsModel
	if err := r.conn(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserSettings{}, domain.NotFound("Settings")
		}
		return domain.UserSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return settingsFromModel(model), nil
}

func (r *gormSettingsRepo) Create(ctx context.Context, s domain.UserSettings) (domain.UserSettings, error) {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	model := settingsToModel(s)
	if err := r.conn(ctx).Create(&model).Error; err != nil {
		return domain.UserSettings{}, fmt.Errorf("create settings: %w", err)
	}
	return s, nil
}

// Update leaves the order counter untouched; only NextOrderNumber moves it.
func (r *gormSettingsRepo) Update(ctx context.Context, userID string, mutate Mutation[domain.UserSettings]) (domain.UserSettings, error) {
	var out domain.UserSettings
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		var model UserSettingsModel
		if err := forUpdate(tx).First(&model, "user_id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFound("Settings")
			}
			return fmt.Errorf("load settings: %w", err)
		}
		s := settingsFromModel(model)
		if err := mutate(&s); err != nil {
			return err
		}
		s.ID = model.ID
		s.UserID = model.UserID
		s.CreatedAt = model.CreatedAt
		s.OrdersSettings.Numbering = model.OrdersNumbering
		s.UpdatedAt = time.Now().UTC()
		updated := settingsToModel(s)
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		out = s
		return nil
	})
	return out, err
}

// NextOrderNumber increments the counter in one statement. The row stays
// locked until the surrounding transaction ends, which serializes order
// creation per user.
func (r *gormSettingsRepo) NextOrderNumber(ctx context.Context, userID string) (int, error) {
	var model UserSettingsModel
	res := r.conn(ctx).Model(&model).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "orders_numbering"}}}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"orders_numbering": gorm.Expr("orders_numbering + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("increment order number: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, domain.NotFound("Settings")
	}
	return model.OrdersNumbering, nil
}

func (r *gormSettingsRepo) DeleteByUser(ctx context.Context, userID string) error {
	if err := r.conn(ctx).Where("user_id = ?", userID).Delete(&UserSettingsModel{}).Error; err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return nil
}

package store

import (
	"time"

	"gorm.io/datatypes"
	"spoolhub/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

// UserSettingsModel keeps the order counter in its own column so it can be
// incremented atomically; the other sub-documents are stored as jsonb.
type UserSettingsModel struct {
	ID                    string                                           `gorm:"primaryKey"`
	UserID                string                                           `gorm:"uniqueIndex;not null"`
	OverallSettings       datatypes.JSONType[domain.OverallSettings]       `gorm:"type:jsonb;not null"`
	RollsSettings         datatypes.JSONType[domain.RollsSettings]         `gorm:"type:jsonb;not null"`
	OrdersSyncOnLogin     bool                                             `gorm:"not null"`
	OrdersNumbering       int                                              `gorm:"not null;default:0"`
	ProjectsSettings      datatypes.JSONType[domain.ProjectsSettings]      `gorm:"type:jsonb;not null"`
	NotificationsSettings datatypes.JSONType[domain.NotificationsSettings] `gorm:"type:jsonb;not null"`
	CreatedAt             time.Time                                        `gorm:"not null"`
	UpdatedAt             time.Time
}

type OwnedColumns struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	IsDeleted bool      `gorm:"not null;default:false;index"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type FilamentModel struct {
	OwnedColumns
	Type        string
	Brand       string
	Diameter    float64
	Color       string
	ColorHex    string
	Name        string `gorm:"not null"`
	Description string
}

// RollModel is indexed on filament_id; several rolls may share a filament.
type RollModel struct {
	OwnedColumns
	FilamentID          string `gorm:"not null;index"`
	Description         string
	URL                 string
	CoolingSpeed        int
	PrintingTemperature int
	BedTemperature      int
	DefaultWeight       float64 `gorm:"not null"`
	ActualWeight        float64 `gorm:"not null"`
	UsedWeight          float64 `gorm:"not null"`
	Rating              int
	ArchivisedAt        *time.Time
	IsFinished          bool
	IsSample            bool
	IsActive            bool
}

type OrderModel struct {
	OwnedColumns
	Name                string `gorm:"not null"`
	Number              int    `gorm:"not null;index"`
	Value               float64
	ExtraCost           float64
	Description         string
	Customer            datatypes.JSONType[domain.Customer]   `gorm:"type:jsonb"`
	Items               datatypes.JSONSlice[domain.OrderItem] `gorm:"type:jsonb"`
	PlannedCompletionAt time.Time                             `gorm:"not null"`
	CompletedAt         *time.Time
	ArchivisedAt        *time.Time
}

type ProjectModel struct {
	OwnedColumns
	Name             string `gorm:"not null;index"`
	ShortDescription string
	Description      string
	Files            datatypes.JSONSlice[domain.File] `gorm:"type:jsonb"`
}

func ownedToColumns(o domain.Owned) OwnedColumns {
	return OwnedColumns{
		ID:        o.ID,
		UserID:    o.UserID,
		IsDeleted: o.IsDeleted,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func ownedFromColumns(c OwnedColumns) domain.Owned {
	return domain.Owned{
		ID:        c.ID,
		UserID:    c.UserID,
		IsDeleted: c.IsDeleted,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func settingsToModel(s domain.UserSettings) UserSettingsModel {
	return UserSettingsModel{
		ID:                    s.ID,
		UserID:                s.UserID,
		OverallSettings:       datatypes.NewJSONType(s.OverallSettings),
		RollsSettings:         datatypes.NewJSONType(s.RollsSettings),
		OrdersSyncOnLogin:     s.OrdersSettings.SyncOnLogin,
		OrdersNumbering:       s.OrdersSettings.Numbering,
		ProjectsSettings:      datatypes.NewJSONType(s.ProjectsSettings),
		NotificationsSettings: datatypes.NewJSONType(s.NotificationsSettings),
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func settingsFromModel(m UserSettingsModel) domain.UserSettings {
	return domain.UserSettings{
		ID:              m.ID,
		UserID:          m.UserID,
		OverallSettings: m.OverallSettings.Data(),
		RollsSettings:   m.RollsSettings.Data(),
		OrdersSettings: domain.OrdersSettings{
			SyncOnLogin: m.OrdersSyncOnLogin,
			Numbering:   m.OrdersNumbering,
		},
		ProjectsSettings:      m.ProjectsSettings.Data(),
		NotificationsSettings: m.NotificationsSettings.Data(),
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func filamentToModel(f domain.Filament) FilamentModel {
	return FilamentModel{
		OwnedColumns: ownedToColumns(f.Owned),
		Type:         f.Type,
		Brand:        f.Brand,
		Diameter:     f.Diameter,
		Color:        f.Color,
		ColorHex:     f.ColorHex,
		Name:         f.Name,
		Description:  f.Description,
	}
}

func filamentFromModel(m FilamentModel) domain.Filament {
	return domain.Filament{
		Owned:       ownedFromColumns(m.OwnedColumns),
		Type:        m.Type,
		Brand:       m.Brand,
		Diameter:    m.Diameter,
		Color:       m.Color,
		ColorHex:    m.ColorHex,
		Name:        m.Name,
		Description: m.Description,
	}
}

func rollToModel(r domain.Roll) RollModel {
	return RollModel{
		OwnedColumns:        ownedToColumns(r.Owned),
		FilamentID:          r.FilamentID,
		Description:         r.Description,
		URL:                 r.URL,
		CoolingSpeed:        r.CoolingSpeed,
		PrintingTemperature: r.PrintingTemperature,
		BedTemperature:      r.BedTemperature,
		DefaultWeight:       r.DefaultWeight,
		ActualWeight:        r.ActualWeight,
		UsedWeight:          r.UsedWeight,
		Rating:              r.Rating,
		ArchivisedAt:        r.ArchivisedAt,
		IsFinished:          r.IsFinished,
		IsSample:            r.IsSample,
		IsActive:            r.IsActive,
	}
}

func rollFromModel(m RollModel) domain.Roll {
	return domain.Roll{
		Owned:               ownedFromColumns(m.OwnedColumns),
		FilamentID:          m.FilamentID,
		Description:         m.Description,
		URL:                 m.URL,
		CoolingSpeed:        m.CoolingSpeed,
		PrintingTemperature: m.PrintingTemperature,
		BedTemperature:      m.BedTemperature,
		DefaultWeight:       m.DefaultWeight,
		ActualWeight:        m.ActualWeight,
		UsedWeight:          m.UsedWeight,
		Rating:              m.Rating,
		ArchivisedAt:        m.ArchivisedAt,
		IsFinished:          m.IsFinished,
		IsSample:            m.IsSample,
		IsActive:            m.IsActive,
	}
}

func orderToModel(o domain.Order) OrderModel {
	return OrderModel{
		OwnedColumns:        ownedToColumns(o.Owned),
		Name:                o.Name,
		Number:              o.Number,
		Value:               o.Value,
		ExtraCost:           o.ExtraCost,
		Description:         o.Description,
		Customer:            datatypes.NewJSONType(o.Customer),
		Items:               datatypes.NewJSONSlice(o.Items),
		PlannedCompletionAt: o.PlannedCompletionAt,
		CompletedAt:         o.CompletedAt,
		ArchivisedAt:        o.ArchivisedAt,
	}
}

func orderFromModel(m OrderModel) domain.Order {
	return domain.Order{
		Owned:               ownedFromColumns(m.OwnedColumns),
		Name:                m.Name,
		Number:              m.Number,
		Value:               m.Value,
		ExtraCost:           m.ExtraCost,
		Description:         m.Description,
		Customer:            m.Customer.Data(),
		Items:               []domain.OrderItem(m.Items),
		PlannedCompletionAt: m.PlannedCompletionAt,
		CompletedAt:         m.CompletedAt,
		ArchivisedAt:        m.ArchivisedAt,
	}
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		OwnedColumns:     ownedToColumns(p.Owned),
		Name:             p.Name,
		ShortDescription: p.ShortDescription,
		Description:      p.Description,
		Files:            datatypes.NewJSONSlice(p.Files),
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		Owned:            ownedFromColumns(m.OwnedColumns),
		Name:             m.Name,
		ShortDescription: m.ShortDescription,
		Description:      m.Description,
		Files:            []domain.File(m.Files),
	}
}

package domain

import (
	"strings"
	"time"
)

// DeleteMode selects soft (flagged) or hard (physical) deletion.
type DeleteMode string

const (
	DeleteSoft DeleteMode = "soft"
	DeleteHard DeleteMode = "hard"
)

// ParseDeleteMode parses the ?type= query value. Empty means soft.
func ParseDeleteMode(raw string) (DeleteMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(DeleteSoft):
		return DeleteSoft, true
	case string(DeleteHard):
		return DeleteHard, true
	default:
		return "", false
	}
}

// Owned holds the fields shared by every user-scoped entity.
type Owned struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Record exposes the shared fields to generic repositories.
func (o *Owned) Record() *Owned { return o }

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type OverallSettings struct {
	Language string `json:"language"`
	Currency string `json:"currency"`
	Theme    int    `json:"theme"`
}

type RollsSettings struct {
	SyncOnLogin bool `json:"syncOnLogin"`
}

type OrdersSettings struct {
	SyncOnLogin bool `json:"syncOnLogin"`
	Numbering   int  `json:"numbering"`
}

type ProjectsSettings struct {
	SyncOnLogin bool `json:"syncOnLogin"`
}

type NotificationsSettings struct {
	IsEnabled bool `json:"isEnabled"`
	Sounds    bool `json:"sounds"`
	NewOrder  bool `json:"newOrder"`
}

// UserSettings is one-to-one with User and owns the order counter.
type UserSettings struct {
	ID                    string                `json:"id"`
	UserID                string                `json:"userId"`
	OverallSettings       OverallSettings       `json:"overallSettings"`
	RollsSettings         RollsSettings         `json:"rollsSettings"`
	OrdersSettings        OrdersSettings        `json:"ordersSettings"`
	ProjectsSettings      ProjectsSettings      `json:"projectsSettings"`
	NotificationsSettings NotificationsSettings `json:"notificationsSettings"`
	CreatedAt             time.Time             `json:"createdAt"`
	UpdatedAt             time.Time             `json:"updatedAt"`
}

// DefaultSettings returns the settings created alongside a new user.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:           userID,
		OverallSettings:  OverallSettings{Language: "en", Currency: "ANY", Theme: 0},
		RollsSettings:    RollsSettings{SyncOnLogin: true},
		OrdersSettings:   OrdersSettings{SyncOnLogin: true, Numbering: 0},
		ProjectsSettings: ProjectsSettings{SyncOnLogin: true},
	}
}

type Filament struct {
	Owned
	Type        string  `json:"type"`
	Brand       string  `json:"brand"`
	Diameter    float64 `json:"diameter"`
	Color       string  `json:"color"`
	ColorHex    string  `json:"colorHex"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

type Roll struct {
	Owned
	FilamentID          string     `json:"filamentId"`
	Description         string     `json:"description"`
	URL                 string     `json:"url"`
	CoolingSpeed        int        `json:"coolingSpeed"`
	PrintingTemperature int        `json:"printingTemperature"`
	BedTemperature      int        `json:"bedTemperature"`
	DefaultWeight       float64    `json:"defaultWeight"`
	ActualWeight        float64    `json:"actualWeight"`
	UsedWeight          float64    `json:"usedWeight"`
	Rating              int        `json:"rating"`
	ArchivisedAt        *time.Time `json:"archivisedAt"`
	IsFinished          bool       `json:"isFinished"`
	IsSample            bool       `json:"isSample"`
	IsActive            bool       `json:"isActive"`
}

// RollStatistics aggregates the live rolls of one owner.
type RollStatistics struct {
	TotalActualWeight       float64 `json:"totalActualWeight"`
	TotalUsedWeight         float64 `json:"totalUsedWeight"`
	OverallRating           float64 `json:"overallRating"`
	LastCoolingSpeed        int     `json:"lastCoolingSpeed"`
	LastPrintingTemperature int     `json:"lastPrintingTemperature"`
	LastBedTemperature      int     `json:"lastBedTemperature"`
}

type Customer struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

type OrderItem struct {
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Price  float64 `json:"price"`
	Amount int     `json:"amount"`
}

type Order struct {
	Owned
	Name                string      `json:"name"`
	Number              int         `json:"number"`
	Value               float64     `json:"value"`
	ExtraCost           float64     `json:"extraCost"`
	Description         string      `json:"description"`
	Customer            Customer    `json:"customer"`
	Items               []OrderItem `json:"items"`
	PlannedCompletionAt time.Time   `json:"plannedCompletionAt"`
	CompletedAt         *time.Time  `json:"completedAt"`
	ArchivisedAt        *time.Time  `json:"archivisedAt"`
}

// OrderValue sums amount*price over items.
func OrderValue(items []OrderItem) float64 {
	var total float64
	for _, item := range items {
		total += float64(item.Amount) * item.Price
	}
	return total
}

// File is a project attachment mirrored by a blob object.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Extension   string    `json:"extension"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FileName returns "name.extension".
func (f File) FileName() string {
	return f.Name + "." + f.Extension
}

type Project struct {
	Owned
	Name             string `json:"name"`
	ShortDescription string `json:"shortDescription"`
	Description      string `json:"description"`
	Files            []File `json:"files"`
}

// FileIndex returns the position of fileID in Files or -1.
func (p *Project) FileIndex(fileID string) int {
	for i, f := range p.Files {
		if f.ID == fileID {
			return i
		}
	}
	return -1
}

// AllowedProjectExtensions lists the CAD/mesh formats accepted on upload.
var AllowedProjectExtensions = map[string]struct{}{
	"dwg": {}, "dxf": {}, "dwf": {}, "igs": {}, "stp": {}, "step": {}, "3ds": {},
	"blend": {}, "dae": {}, "ipt": {}, "obj": {}, "skp": {}, "fbx": {}, "lwo": {},
	"off": {}, "ply": {}, "stl": {}, "amf": {}, "x3d": {},
}

// TokenPair is returned by login and renew.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

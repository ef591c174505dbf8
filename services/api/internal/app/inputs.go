package app

import (
	"strings"
	"time"

	"spoolhub/internal/validate"
	"spoolhub/pkg/auth"
	"spoolhub/pkg/domain"
)

// Validator is implemented by every request payload. The HTTP layer runs
// it before invoking a workflow.
type Validator interface {
	Validate() error
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in RegisterInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if c.Required("username", in.Username) {
			c.LenBetween("username", in.Username, 3, 20)
		}
		c.Email("email", in.Email)
		checkNewPassword(c, "password", in.Password)
	})
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Email("email", in.Email)
		if c.Required("password", in.Password) {
			c.MaxLen("password", in.Password, 64)
		}
	})
}

type RestorePasswordInput struct {
	Email string `json:"email"`
}

func (in RestorePasswordInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Email("email", in.Email)
	})
}

type UpdateUserInput struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

func (in UpdateUserInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if in.Username != nil {
			c.LenBetween("username", *in.Username, 3, 20)
		}
		if in.Email != nil {
			c.Email("email", *in.Email)
		}
	})
}

type ChangePasswordInput struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

func (in ChangePasswordInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Required("password", in.Password)
		checkNewPassword(c, "newPassword", in.NewPassword)
	})
}

type ConfirmPasswordInput struct {
	Password string `json:"password"`
}

func (in ConfirmPasswordInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Required("password", in.Password)
	})
}

func checkNewPassword(c *validate.Checker, field, password string) {
	if !c.Required(field, password) {
		return
	}
	if err := auth.ValidatePassword(password); err != nil {
		c.Add(field, "%s %s", field, strings.TrimPrefix(err.Error(), auth.ErrWeakPassword.Error()+": "))
	}
}

type OverallSettingsInput struct {
	Language *string `json:"language"`
	Currency *string `json:"currency"`
	Theme    *int    `json:"theme"`
}

type SyncSettingsInput struct {
	SyncOnLogin *bool `json:"syncOnLogin"`
}

type NotificationsSettingsInput struct {
	IsEnabled *bool `json:"isEnabled"`
	Sounds    *bool `json:"sounds"`
	NewOrder  *bool `json:"newOrder"`
}

// SettingsInput is a partial update. The order counter is not writable.
type SettingsInput struct {
	OverallSettings       *OverallSettingsInput       `json:"overallSettings"`
	RollsSettings         *SyncSettingsInput          `json:"rollsSettings"`
	OrdersSettings        *SyncSettingsInput          `json:"ordersSettings"`
	ProjectsSettings      *SyncSettingsInput          `json:"projectsSettings"`
	NotificationsSettings *NotificationsSettingsInput `json:"notificationsSettings"`
}

func (in SettingsInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if o := in.OverallSettings; o != nil {
			if o.Language != nil {
				c.LenBetween("language", *o.Language, 2, 10)
			}
			if o.Currency != nil {
				c.LenBetween("currency", *o.Currency, 3, 3)
			}
			if o.Theme != nil {
				c.IntBetween("theme", *o.Theme, 0, 9)
			}
		}
	})
}

func (in SettingsInput) apply(s *domain.UserSettings) {
	if o := in.OverallSettings; o != nil {
		setIf(&s.OverallSettings.Language, o.Language)
		setIf(&s.OverallSettings.Currency, o.Currency)
		setIf(&s.OverallSettings.Theme, o.Theme)
	}
	if r := in.RollsSettings; r != nil {
		setIf(&s.RollsSettings.SyncOnLogin, r.SyncOnLogin)
	}
	if o := in.OrdersSettings; o != nil {
		setIf(&s.OrdersSettings.SyncOnLogin, o.SyncOnLogin)
	}
	if p := in.ProjectsSettings; p != nil {
		setIf(&s.ProjectsSettings.SyncOnLogin, p.SyncOnLogin)
	}
	if n := in.NotificationsSettings; n != nil {
		setIf(&s.NotificationsSettings.IsEnabled, n.IsEnabled)
		setIf(&s.NotificationsSettings.Sounds, n.Sounds)
		setIf(&s.NotificationsSettings.NewOrder, n.NewOrder)
	}
}

type FilamentInput struct {
	Type        string  `json:"type"`
	Brand       string  `json:"brand"`
	Diameter    float64 `json:"diameter"`
	Color       string  `json:"color"`
	ColorHex    string  `json:"colorHex"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

func (in FilamentInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if c.Required("type", in.Type) {
			c.MaxLen("type", in.Type, 25)
		}
		if c.Required("brand", in.Brand) {
			c.MaxLen("brand", in.Brand, 25)
		}
		c.Positive("diameter", in.Diameter)
		if c.Required("color", in.Color) {
			c.MaxLen("color", in.Color, 25)
		}
		c.ColorHex("colorHex", in.ColorHex)
		c.MaxLen("name", in.Name, 40)
		c.MaxLen("description", in.Description, 500)
	})
}

type FilamentPatch struct {
	Type        *string  `json:"type"`
	Brand       *string  `json:"brand"`
	Diameter    *float64 `json:"diameter"`
	Color       *string  `json:"color"`
	ColorHex    *string  `json:"colorHex"`
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
}

func (in FilamentPatch) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if in.Type != nil {
			c.MaxLen("type", *in.Type, 25)
		}
		if in.Brand != nil {
			c.MaxLen("brand", *in.Brand, 25)
		}
		if in.Diameter != nil {
			c.Positive("diameter", *in.Diameter)
		}
		if in.Color != nil {
			c.MaxLen("color", *in.Color, 25)
		}
		if in.ColorHex != nil {
			c.ColorHex("colorHex", *in.ColorHex)
		}
		if in.Name != nil {
			c.MaxLen("name", *in.Name, 40)
		}
		if in.Description != nil {
			c.MaxLen("description", *in.Description, 500)
		}
	})
}

func (in FilamentPatch) apply(f *domain.Filament) {
	setIf(&f.Type, in.Type)
	setIf(&f.Brand, in.Brand)
	setIf(&f.Diameter, in.Diameter)
	setIf(&f.Color, in.Color)
	setIf(&f.ColorHex, in.ColorHex)
	setIf(&f.Name, in.Name)
	setIf(&f.Description, in.Description)
}

type RollInput struct {
	FilamentID          string  `json:"filamentId"`
	Description         string  `json:"description"`
	URL                 string  `json:"url"`
	CoolingSpeed        int     `json:"coolingSpeed"`
	PrintingTemperature int     `json:"printingTemperature"`
	BedTemperature      int     `json:"bedTemperature"`
	DefaultWeight       float64 `json:"defaultWeight"`
	ActualWeight        float64 `json:"actualWeight"`
	Rating              *int    `json:"rating"`
	IsFinished          bool    `json:"isFinished"`
	IsSample            bool    `json:"isSample"`
	IsActive            bool    `json:"isActive"`
}

func (in RollInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Required("filamentId", in.FilamentID)
		c.MaxLen("description", in.Description, 500)
		c.URL("url", in.URL)
		checkRollSettings(c, in.CoolingSpeed, in.PrintingTemperature, in.BedTemperature)
		checkWeights(c, in.DefaultWeight, in.ActualWeight)
		if in.Rating != nil {
			c.IntBetween("rating", *in.Rating, 1, 10)
		}
	})
}

type RollPatch struct {
	FilamentID          *string  `json:"filamentId"`
	Description         *string  `json:"description"`
	URL                 *string  `json:"url"`
	CoolingSpeed        *int     `json:"coolingSpeed"`
	PrintingTemperature *int     `json:"printingTemperature"`
	BedTemperature      *int     `json:"bedTemperature"`
	DefaultWeight       *float64 `json:"defaultWeight"`
	ActualWeight        *float64 `json:"actualWeight"`
	Rating              *int     `json:"rating"`
	IsFinished          *bool    `json:"isFinished"`
	IsSample            *bool    `json:"isSample"`
	IsActive            *bool    `json:"isActive"`
}

func (in RollPatch) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if in.FilamentID != nil {
			c.Required("filamentId", *in.FilamentID)
		}
		if in.Description != nil {
			c.MaxLen("description", *in.Description, 500)
		}
		if in.URL != nil {
			c.URL("url", *in.URL)
		}
		optionalIntBetween(c, "coolingSpeed", in.CoolingSpeed, 0, 999)
		optionalIntBetween(c, "printingTemperature", in.PrintingTemperature, 0, 999)
		optionalIntBetween(c, "bedTemperature", in.BedTemperature, 0, 999)
		if in.DefaultWeight != nil {
			checkDefaultWeight(c, *in.DefaultWeight)
		}
		if in.ActualWeight != nil {
			c.NonNegative("actualWeight", *in.ActualWeight)
		}
		if in.Rating != nil {
			c.IntBetween("rating", *in.Rating, 1, 10)
		}
	})
}

func (in RollPatch) apply(r *domain.Roll) {
	setIf(&r.FilamentID, in.FilamentID)
	setIf(&r.Description, in.Description)
	setIf(&r.URL, in.URL)
	setIf(&r.CoolingSpeed, in.CoolingSpeed)
	setIf(&r.PrintingTemperature, in.PrintingTemperature)
	setIf(&r.BedTemperature, in.BedTemperature)
	setIf(&r.DefaultWeight, in.DefaultWeight)
	setIf(&r.ActualWeight, in.ActualWeight)
	setIf(&r.Rating, in.Rating)
	setIf(&r.IsFinished, in.IsFinished)
	setIf(&r.IsSample, in.IsSample)
	setIf(&r.IsActive, in.IsActive)
}

func checkRollSettings(c *validate.Checker, cooling, printing, bed int) {
	c.IntBetween("coolingSpeed", cooling, 0, 999)
	c.IntBetween("printingTemperature", printing, 0, 999)
	c.IntBetween("bedTemperature", bed, 0, 999)
}

func optionalIntBetween(c *validate.Checker, field string, v *int, min, max int) {
	if v != nil {
		c.IntBetween(field, *v, min, max)
	}
}

func checkDefaultWeight(c *validate.Checker, w float64) {
	c.NonNegative("defaultWeight", w)
}

func checkWeights(c *validate.Checker, defaultWeight, actualWeight float64) {
	checkDefaultWeight(c, defaultWeight)
	c.NonNegative("actualWeight", actualWeight)
	if defaultWeight < actualWeight {
		c.Add("defaultWeight", "defaultWeight must be greater than or equal to actualWeight")
	}
}

type ChangeWeightInput struct {
	UsedWeight float64 `json:"usedWeight"`
}

func (in ChangeWeightInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Positive("usedWeight", in.UsedWeight)
	})
}

type CustomerInput struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

type OrderItemInput struct {
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Price  float64 `json:"price"`
	Amount int     `json:"amount"`
}

type OrderInput struct {
	Name                string           `json:"name"`
	ExtraCost           float64          `json:"extraCost"`
	Description         string           `json:"description"`
	Customer            CustomerInput    `json:"customer"`
	Items               []OrderItemInput `json:"items"`
	PlannedCompletionAt string           `json:"plannedCompletionAt"`
}

func (in OrderInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		c.Required("name", in.Name)
		c.NonNegative("extraCost", in.ExtraCost)
		c.Required("description", in.Description)
		c.Required("customer.name", in.Customer.Name)
		if c.Required("customer.phoneNumber", in.Customer.PhoneNumber) {
			c.MaxLen("customer.phoneNumber", in.Customer.PhoneNumber, 9)
		}
		if in.Items == nil {
			c.Add("items", "items should not be empty")
		}
		checkItems(c, in.Items)
		if c.Required("plannedCompletionAt", in.PlannedCompletionAt) {
			checkDate(c, "plannedCompletionAt", in.PlannedCompletionAt)
		}
	})
}

type CustomerPatch struct {
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phoneNumber"`
}

type OrderPatch struct {
	Name                *string           `json:"name"`
	ExtraCost           *float64          `json:"extraCost"`
	Description         *string           `json:"description"`
	Customer            *CustomerPatch    `json:"customer"`
	Items               *[]OrderItemInput `json:"items"`
	PlannedCompletionAt *string           `json:"plannedCompletionAt"`
}

func (in OrderPatch) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if in.ExtraCost != nil {
			c.NonNegative("extraCost", *in.ExtraCost)
		}
		if in.Customer != nil && in.Customer.PhoneNumber != nil {
			c.MaxLen("customer.phoneNumber", *in.Customer.PhoneNumber, 9)
		}
		if in.Items != nil {
			checkItems(c, *in.Items)
		}
		if in.PlannedCompletionAt != nil {
			checkDate(c, "plannedCompletionAt", *in.PlannedCompletionAt)
		}
	})
}

func checkItems(c *validate.Checker, items []OrderItemInput) {
	for _, item := range items {
		c.Required("items.name", item.Name)
		c.Required("items.color", item.Color)
		c.Positive("items.price", item.Price)
		c.Positive("items.amount", float64(item.Amount))
	}
}

func checkDate(c *validate.Checker, field, raw string) {
	if _, err := parseDate(raw); err != nil {
		c.Add(field, "%s must be a valid ISO 8601 date string", field)
	}
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

func orderItems(in []OrderItemInput) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(in))
	for _, item := range in {
		items = append(items, domain.OrderItem{
			Name:   strings.TrimSpace(item.Name),
			Color:  strings.TrimSpace(item.Color),
			Price:  item.Price,
			Amount: item.Amount,
		})
	}
	return items
}

type ProjectInput struct {
	Name             string `json:"name"`
	ShortDescription string `json:"shortDescription"`
	Description      string `json:"description"`
}

func (in ProjectInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if c.Required("name", in.Name) {
			checkProjectName(c, in.Name)
		}
		c.MaxLen("shortDescription", in.ShortDescription, 100)
		c.MaxLen("description", in.Description, 500)
	})
}

type ProjectPatch struct {
	Name             *string `json:"name"`
	ShortDescription *string `json:"shortDescription"`
	Description      *string `json:"description"`
}

func (in ProjectPatch) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if in.Name != nil {
			checkProjectName(c, *in.Name)
		}
		if in.ShortDescription != nil {
			c.MaxLen("shortDescription", *in.ShortDescription, 100)
		}
		if in.Description != nil {
			c.MaxLen("description", *in.Description, 500)
		}
	})
}

// Project names become blob key segments.
func checkProjectName(c *validate.Checker, name string) {
	c.LenBetween("name", name, 3, 25)
	if strings.ContainsAny(name, `/\`) {
		c.Add("name", "name must not contain slashes")
	}
}

type UploadFileInput struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

func (in UploadFileInput) Validate() error {
	return validate.Check(func(c *validate.Checker) {
		if c.Required("name", in.Name) {
			c.LenBetween("name", in.Name, 3, 25)
			if strings.ContainsAny(in.Name, `/\`) {
				c.Add("name", "name must not contain slashes")
			}
		}
		c.Required("extension", in.Extension)
	})
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

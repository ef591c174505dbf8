package workflow

// IDs reports the identifiers a workflow created or touched. It is returned
// by Runner.Run and never kept between runs.
type IDs struct {
	UserID         string `json:"userId,omitempty"`
	UserSettingsID string `json:"userSettingsId,omitempty"`
	FilamentID     string `json:"filamentId,omitempty"`
	RollID         string `json:"rollId,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
	FileID         string `json:"fileId,omitempty"`
}

// IsZero reports whether no identifier was recorded.
func (ids IDs) IsZero() bool {
	return ids == IDs{}
}

// Merge returns ids with every non-empty field of other applied on top.
func (ids IDs) Merge(other IDs) IDs {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&ids.UserID, other.UserID)
	set(&ids.UserSettingsID, other.UserSettingsID)
	set(&ids.FilamentID, other.FilamentID)
	set(&ids.RollID, other.RollID)
	set(&ids.OrderID, other.OrderID)
	set(&ids.ProjectID, other.ProjectID)
	set(&ids.FileID, other.FileID)
	return ids
}

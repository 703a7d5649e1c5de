package equipment

import "time"

// Status is the operational state of a piece of equipment.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusScrapped Status = "SCRAPPED"
)

// Equipment captures the subset of asset data the request engine reads.
type Equipment struct {
	ID            string
	Name          string
	SerialNumber  string
	Category      string
	Status        Status
	DefaultTeamID *string
	CreatedAt     time.Time
}

// Scrapped reports whether the equipment has been taken out of service.
func (e Equipment) Scrapped() bool {
	return e.Status == StatusScrapped
}

// CreateParams enumerates the fields required to register equipment.
type CreateParams struct {
	Name          string
	SerialNumber  string
	Category      string
	DefaultTeamID *string
}

package models

const (
	CounterMembers       = "members"
	CounterAccommodation = "accommodation"
	CounterRegistrations = "registrations"
)

// CapacityCounter holds the used count of one global ceiling. Used is only
// changed through conditional updates bounded by the configured limit.
type CapacityCounter struct {
	Name string `gorm:"type:varchar(50);primaryKey" json:"name"`
	Used int64  `gorm:"not null;default:0" json:"used"`
}

// Package gormusers implements the partner-availability gateway over the
// user service's users table.
package gormusers

import (
	"time"

	"github.com/xenking/quickbite/internal/domain/delivery"
)

// RolePartner is the users.role value of delivery partners.
const RolePartner = "PARTNER"

// UserDTO maps a row of the users table.
type UserDTO struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement"`
	Name               string    `gorm:"type:text;not null"`
	Email              string    `gorm:"type:text;not null;uniqueIndex"`
	Role               string    `gorm:"type:text;not null"`
	Active             bool      `gorm:"not null;default:true"`
	AvailabilityStatus bool      `gorm:"column:availability_status;not null;default:true"`
	AvailabilityLocked bool      `gorm:"column:availability_locked;not null;default:false"`
	TotalOrders        int       `gorm:"column:total_orders;not null;default:0"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName overrides GORM's default "user_dtos".
func (UserDTO) TableName() string {
	return "users"
}

func toPartner(u UserDTO) delivery.Partner {
	return delivery.Partner{
		ID:        u.ID,
		Name:      u.Name,
		Available: u.AvailabilityStatus,
	}
}

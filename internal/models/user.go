package models

import "time"

// Role values assignable to CRM users.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// User represents a CRM staff member. The record is owned by the user
// management side of the application; the realtime core only reads it to
// resolve identities and display names.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Role      string    `gorm:"size:32;not null;default:staff" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

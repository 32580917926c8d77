package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// User is an account that acts on transfers. Project-scoped roles carry the
// project they are currently assigned to.
type User struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Username         string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	FullName         string         `gorm:"type:varchar(255);not null" json:"full_name"`
	Email            string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password         string         `gorm:"type:varchar(255);not null" json:"-"` // bcrypt hash
	Role             Role           `gorm:"type:varchar(50);not null" json:"role"`
	CurrentProjectID *int64         `gorm:"index" json:"current_project_id"`
	CurrentProject   *Project       `gorm:"foreignKey:CurrentProjectID" json:"current_project,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// DisplayName is the name shown in timelines and exports.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("User #%d", u.ID)
}

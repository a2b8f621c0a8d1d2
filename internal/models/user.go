package models

import "time"

// UserAuth is a backoffice/API user allowed to drive sync sessions.
type UserAuth struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"type:varchar(20);default:'operator'" json:"role"`
	CompanyID    int64     `gorm:"index" json:"companyId"`
	Active       bool      `gorm:"default:true" json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"-"`
}

func (UserAuth) TableName() string { return "user_auth" }

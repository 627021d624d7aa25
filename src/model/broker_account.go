package model

import "time"

// BrokerAccount holds the credentials for one broker session. Only one
// account is ever active at a time in v1 (spec.md Non-goals: "no
// multi-account fan-out in v1"); the table still models many rows so that
// swapping the active account does not require a schema change, grounded
// on original_source's ApiAccount dataclass.
type BrokerAccount struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"size:64;not null" json:"name"`
	BaseURL         string    `gorm:"size:256;not null" json:"base_url"`
	PasswordEncNonce string   `gorm:"size:64;not null" json:"-"`
	PasswordEnc     string    `gorm:"type:text;not null" json:"-"`
	IsActive        bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (BrokerAccount) TableName() string { return "broker_accounts" }

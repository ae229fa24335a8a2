// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusIssued        InvoiceStatus = "issued"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// Invoice represents a receivable against an account. Total and Balance are
// in cents; Balance is the unpaid remainder.
type Invoice struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	AccountID snowflake.ID  `gorm:"not null;index"`
	Status    InvoiceStatus `gorm:"type:text;not null;default:'issued'"`
	Total     int64         `gorm:"not null;default:0"`
	Balance   int64         `gorm:"not null;default:0"`
	IssuedAt  time.Time     `gorm:"not null"`
	DueAt     time.Time     `gorm:"not null;index"`
	PaidAt    *time.Time    `gorm:""`
	Deleted   bool          `gorm:"not null;default:false"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Collectible reports whether the invoice still counts toward an account's
// overdue exposure.
func (i Invoice) Collectible() bool {
	if i.Deleted || i.Balance <= 0 {
		return false
	}
	switch i.Status {
	case InvoiceStatusIssued, InvoiceStatusPartiallyPaid, InvoiceStatusOverdue:
		return true
	default:
		return false
	}
}

package models

import (
	"time"
)

type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is one observation of a customer. A primary has no LinkedID, a
// secondary always points at its cluster's primary.
// Field order matches schema: id, email, phone_number, link_precedence, linked_id, ...
type Contact struct {
	ID             int64          `json:"id" db:"id"`
	Email          *string        `json:"email,omitempty" db:"email"`
	PhoneNumber    *string        `json:"phone_number,omitempty" db:"phone_number"`
	LinkPrecedence LinkPrecedence `json:"link_precedence" db:"link_precedence"`
	LinkedID       *int64         `json:"linked_id,omitempty" db:"linked_id"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// EmailValue returns the email or "" when absent.
func (c Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when absent.
func (c Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}

// OlderThan orders contacts by created_at, falling back to the lower id.
func (c Contact) OlderThan(other Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// Summary is the consolidated view of one identity cluster.
type Summary struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// StringPtr returns nil for "" so empty identifiers are stored as NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

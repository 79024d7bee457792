package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is the clinical artifact issued for an approved case. Exactly one
// exists per case, created in the same transaction that moves the case to
// signed. SignedContent and SignedAt are populated exactly once.
type Document struct {
	Base
	CaseID        uuid.UUID  `json:"case_id" db:"case_id"`
	Content       string     `json:"content" db:"content"`
	SignedContent *string    `json:"signed_content,omitempty" db:"signed_content"`
	SignedAt      *time.Time `json:"signed_at,omitempty" db:"signed_at"`
}

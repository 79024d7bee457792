package model

import (
	"github.com/google/uuid"
)

// CaseStatus is the closed vocabulary of the case state machine:
// pending -> paid -> approved -> signed, with rejected reachable from
// pending or paid. Transitions never reverse.
type CaseStatus string

const (
	CaseStatusPending  CaseStatus = "pending"
	CaseStatusPaid     CaseStatus = "paid"
	CaseStatusApproved CaseStatus = "approved"
	CaseStatusSigned   CaseStatus = "signed"
	CaseStatusRejected CaseStatus = "rejected"
)

// Valid reports whether s is one of the known statuses. Statuses are
// validated when read back from storage.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusPending, CaseStatusPaid, CaseStatusApproved,
		CaseStatusSigned, CaseStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusSigned || s == CaseStatusRejected
}

// DefaultCaseAmount is the fixed fee charged for every request, in BRL.
const DefaultCaseAmount = 50.0

// Gateway payment status vocabulary (mirrors the provider's).
const (
	PaymentStatusPending  = "pending"
	PaymentStatusApproved = "approved"
)

// Case represents one medical-document request tracked through the status
// state machine. DoctorID stays nil until approval; the gateway fields stay
// nil until a charge has been created.
type Case struct {
	Base
	PatientID     uuid.UUID  `json:"patient_id" db:"patient_id"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty" db:"doctor_id"`
	RequestType   string     `json:"request_type" db:"request_type"`
	Description   string     `json:"description" db:"description"`
	Status        CaseStatus `json:"status" db:"status"`
	PaymentStatus string     `json:"payment_status" db:"payment_status"`
	PaymentAmount float64    `json:"payment_amount" db:"payment_amount"`
	GatewayID     *string    `json:"gateway_id,omitempty" db:"gateway_id"`
	PreferenceID  *string    `json:"preference_id,omitempty" db:"preference_id"`
	CheckoutURL   *string    `json:"checkout_url,omitempty" db:"checkout_url"`
	QRCode        *string    `json:"qr_code,omitempty" db:"qr_code"`
	QRCodeBase64  *string    `json:"qr_code_base64,omitempty" db:"qr_code_base64"`
}

// HasPixPayload reports whether a PIX payload has already been generated for
// the case. Payloads are created at most once.
func (c *Case) HasPixPayload() bool {
	return c.QRCode != nil && *c.QRCode != ""
}

// CreateCaseRequest represents case creation parameters
type CreateCaseRequest struct {
	RequestType string `json:"request_type" binding:"required,oneof=prescription report certificate referral"`
	Description string `json:"description" binding:"required"`
}

// ApproveCaseRequest carries the clinical content the doctor provides at
// approval time.
type ApproveCaseRequest struct {
	Content string `json:"content" binding:"required"`
}

// RejectCaseRequest represents rejection parameters
type RejectCaseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PaymentInfo is what the patient needs to complete a PIX payment, or the
// checkout URL when the direct charge path was unavailable.
type PaymentInfo struct {
	CaseID        uuid.UUID `json:"case_id"`
	PaymentStatus string    `json:"payment_status"`
	QRCode        string    `json:"qr_code,omitempty"`
	QRCodeBase64  string    `json:"qr_code_base64,omitempty"`
	CheckoutURL   string    `json:"checkout_url,omitempty"`
}

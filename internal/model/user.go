package model

import "strings"

// User role constants. A role is fixed at registration and never changes.
const (
	UserRolePatient = "patient"
	UserRoleDoctor  = "doctor"
)

// User represents a registered patient or doctor.
type User struct {
	Base
	Email        string  `json:"email" db:"email"`
	PasswordHash string  `json:"-" db:"password_hash"`
	FullName     string  `json:"full_name" db:"full_name"`
	Role         string  `json:"role" db:"role"`
	CRM          *string `json:"crm,omitempty" db:"crm"`
}

// IsDoctor reports whether the user holds the doctor role.
func (u *User) IsDoctor() bool {
	return u.Role == UserRoleDoctor
}

// FirstName returns the leading word of the full name, used for gateway
// payer payloads.
func (u *User) FirstName() string {
	name, _ := splitName(u.FullName)
	return name
}

// LastName returns everything after the first word of the full name.
func (u *User) LastName() string {
	_, rest := splitName(u.FullName)
	return rest
}

func splitName(full string) (first, rest string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// RegisterPatientRequest represents patient registration parameters
type RegisterPatientRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
}

// RegisterDoctorRequest represents doctor registration parameters. CRM is the
// doctor's medical license identifier and is mandatory for the role.
type RegisterDoctorRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
	CRM      string `json:"crm" binding:"required,crm"`
}

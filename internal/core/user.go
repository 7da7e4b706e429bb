package core

import (
	"net/mail"
	"strings"
	"time"
)

type (
	// User mirrors an identity-provider account. ExternalID is the provider's
	// user id and is what records reference.
	User struct {
		ID         int64     `json:"id"`
		ExternalID string    `json:"clerkId"`
		Name       string    `json:"name"`
		Email      string    `json:"email"`
		FirstName  string    `json:"firstName"`
		LastName   string    `json:"lastName"`
		Photo      string    `json:"photo"`
		CreatedAt  time.Time `json:"createdAt"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	// UserPatch carries the profile fields to change. Nil fields are left as is.
	UserPatch struct {
		Name      *string `json:"name,omitempty"`
		Email     *string `json:"email,omitempty"`
		FirstName *string `json:"firstName,omitempty"`
		LastName  *string `json:"lastName,omitempty"`
		Photo     *string `json:"photo,omitempty"`
	}

	UserWithRecords struct {
		User
		Records []Record `json:"records"`
	}
)

// Validate checks the fields required to insert a user.
func (u User) Validate() error {
	fields := FieldErrors{}
	if strings.TrimSpace(u.ExternalID) == "" {
		fields.Add("clerkId", "User ID is required")
	}
	if u.Email != "" {
		if _, err := mail.ParseAddress(u.Email); err != nil {
			fields.Add("email", "Invalid email address")
		}
	}
	return fields.Err()
}

// DisplayName falls back to first and last name when Name is blank.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.FirstName == nil && p.LastName == nil && p.Photo == nil
}

func (p UserPatch) Validate() error {
	if p.IsEmpty() {
		return Validation(map[string]string{"patch": ErrEmptyPatch.Error()})
	}
	if p.Email != nil && *p.Email != "" {
		if _, err := mail.ParseAddress(*p.Email); err != nil {
			return Validation(map[string]string{"email": "Invalid email address"})
		}
	}
	return nil
}

// Apply returns u with the patch applied and UpdatedAt set to now.
func (p UserPatch) Apply(u User, now time.Time) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Photo != nil {
		u.Photo = *p.Photo
	}
	u.UpdatedAt = now.UTC()
	return u
}

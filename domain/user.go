package domain

import (
	"net/mail"
	"strings"
)

const minPasswordLength = 8

// User is an account able to own tasks.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
}

// Registration is the sign-up form.
type Registration struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if len(r.Password) < minPasswordLength {
		return &ValidationError{Field: "password", Message: "Password should be at least 8 characters"}
	}
	if r.Password != r.ConfirmPassword {
		return &ValidationError{Field: "confirmPassword", Message: "Passwords don't match"}
	}
	return nil
}

// Credentials is the sign-in form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	if err := validateEmail(c.Email); err != nil {
		return err
	}
	if c.Password == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}

// NormalizeEmail is the key users are stored under.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return &ValidationError{Field: "email", Message: "invalid email address"}
	}
	return nil
}

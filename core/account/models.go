package account

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Roles
const (
	RoleGuardian = "guardian"
	RoleAdmin    = "admin"
)

var (
	AllRoles = []string{RoleAdmin, RoleGuardian}

	Roles = []Role{
		{Name: "Guardian", Value: RoleGuardian},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Child is a child declared by a guardian at registration. It is informational only; the
// kindergarten network keeps the authoritative student records.
type Child struct {
	Name      string `json:"name" validate:"required,notblank"`
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
}

type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Children     []Child   `json:"children"`
	Roles        []string  `json:"roles"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (acc *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	acc.PasswordHash = hash
	return nil
}

func (acc *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(pwd))
}

func (acc *Account) HasRole(role string) bool {
	for _, r := range acc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (acc *Account) IsAdmin() bool    { return acc.HasRole(RoleAdmin) }
func (acc *Account) IsGuardian() bool { return acc.HasRole(RoleGuardian) }

// NewAccount contains information needed to register a new Account.
// One of Email or Phone is required; either can be used to sign in.
type NewAccount struct {
	Name            string   `json:"name" validate:"required,notblank"`
	Phone           string   `json:"phone" validate:"omitempty,e164"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Children        []Child  `json:"children" validate:"omitempty,dive"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
}

func (na *NewAccount) clean() {
	na.Name = cleanName(na.Name)
	na.Phone = cleanPhone(na.Phone)
	na.Email = strings.ToLower(strings.TrimSpace(na.Email))
	if len(na.Roles) == 0 {
		na.Roles = []string{RoleGuardian}
	}
}

// UpdateAccount defines what information may be provided to modify an existing Account.
// Empty fields keep their current value.
type UpdateAccount struct {
	Name            string   `json:"name"`
	Phone           string   `json:"phone" validate:"omitempty,e164"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Children        []Child  `json:"children" validate:"omitempty,dive"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (ua *UpdateAccount) clean(orig Account) {
	if name := cleanName(ua.Name); name != "" {
		ua.Name = name
	} else {
		ua.Name = orig.Name
	}
	if phone := cleanPhone(ua.Phone); phone != "" {
		ua.Phone = phone
	} else {
		ua.Phone = orig.Phone
	}
	if email := strings.ToLower(strings.TrimSpace(ua.Email)); email != "" {
		ua.Email = email
	} else {
		ua.Email = orig.Email
	}
	if ua.Children == nil {
		ua.Children = orig.Children
	}
	if ua.Roles == nil {
		ua.Roles = orig.Roles
	}
}

type ResetPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

// GetFilter selects a single Account; the first non-empty field wins.
type GetFilter struct {
	ID    string
	Email string
	Phone string
	Login string // email or phone
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = strings.TrimSpace(qf.Search)
}

func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanPhone drops the separators people type in phone numbers: "+243 81-234 5678" becomes "+243812345678".
func cleanPhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// IsLoginPhone reports whether a login identifier looks like a phone number rather than an email.
func IsLoginPhone(login string) bool {
	return !strings.Contains(login, "@")
}

// CleanLogin normalizes an email or phone login identifier.
func CleanLogin(login string) string {
	if IsLoginPhone(login) {
		return cleanPhone(login)
	}
	return strings.ToLower(strings.TrimSpace(login))
}

// Package account manages guardian and admin accounts: registration, authentication and
// password resets. Accounts live in a relational database behind Repository.
package account

import (
	"context"
	"net/mail"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/azardenmark/dashboard-sub000/core"
)

var (
	// errors
	ErrNotFound           = errors.New("account not found")
	ErrEmailExists        = errors.New("an account with this email already exists")
	ErrPhoneExists        = errors.New("an account with this phone already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrEmailExists or ErrPhoneExists when another account (not in
		// excludedIDs) already uses email or phone. Empty values are not checked.
		CheckUniqueness(ctx context.Context, email, phone string, excludedIDs ...string) error
		CreateAccount(ctx context.Context, acc Account) (Account, error)
		// QueryAccounts applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Account.Name, Account.Email or Account.Phone.
		QueryAccounts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)
		GetAccount(ctx context.Context, filter GetFilter) (Account, error)
		UpdateAccount(ctx context.Context, acc Account) (Account, error)
		DeleteAccountsByID(ctx context.Context, ids []string) (int, error)
	}

	Options struct {
		Repo                 Repository
		Mail                 core.EmailService
		Logger               core.Logger
		Validate             *validator.Validate
		Translator           ut.Translator
		SecretKey            string
		PasswordResetTimeout time.Duration
	}

	Service struct {
		repo     Repository
		mail     core.EmailService
		logger   core.Logger
		validate *validator.Validate
		tokens   tokenGenerator
	}
)

func NewService(opts Options) *Service {
	svc := &Service{
		repo:     opts.Repo,
		mail:     opts.Mail,
		logger:   opts.Logger,
		validate: opts.Validate,
		tokens:   tokenGenerator{secretKey: []byte(opts.SecretKey), timeout: opts.PasswordResetTimeout},
	}
	if svc.logger == nil {
		svc.logger = core.NopLogger{}
	}
	translator := opts.Translator
	if svc.validate == nil {
		svc.validate, translator = core.NewValidator()
	}
	RegisterValidators(svc.validate, translator)
	return svc
}

func (svc *Service) checkUniqueness(ctx context.Context, email, phone string, excludedIDs ...string) error {
	if err := svc.repo.CheckUniqueness(ctx, email, phone, excludedIDs...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrEmailExists:
			field = "email"
		case ErrPhoneExists:
			field = "phone"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

// Register validates na and creates a new active Account. A welcome email is sent when the account has an email.
func (svc *Service) Register(ctx context.Context, na NewAccount) (Account, error) {
	na.clean()
	if err := svc.validate.Struct(na); err != nil {
		return Account{}, err
	}
	if err := svc.checkUniqueness(ctx, na.Email, na.Phone); err != nil {
		return Account{}, err
	}

	now := NowFunc().UTC()
	acc := Account{
		Name:      na.Name,
		Phone:     na.Phone,
		Email:     na.Email,
		Children:  na.Children,
		Roles:     na.Roles,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := acc.SetPassword(na.Password); err != nil {
		return Account{}, errors.Wrap(err, "hashing password")
	}
	acc, err := svc.repo.CreateAccount(ctx, acc)
	if err != nil {
		return Account{}, errors.Wrap(err, "creating account")
	}
	svc.sendMail(acc, "Welcome", "welcome", map[string]string{"Name": acc.Name, "Email": acc.Email})
	return acc, nil
}

// Authenticate checks the login (email or phone) and password, and stamps the last login.
func (svc *Service) Authenticate(ctx context.Context, login, pwd string) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{Login: CleanLogin(login)})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, errors.Wrap(err, "finding account by login")
	}
	if err := acc.CheckPassword(pwd); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	if !acc.IsActive {
		return Account{}, ErrAccountDeactivated
	}
	return svc.SetLastLogin(ctx, acc)
}

func (svc *Service) SetLastLogin(ctx context.Context, acc Account) (Account, error) {
	acc.LastLogin = NowFunc().UTC()
	acc, err := svc.repo.UpdateAccount(ctx, acc)
	return acc, errors.Wrap(err, "setting last login")
}

func (svc *Service) Get(ctx context.Context, id string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByLogin(ctx context.Context, login string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{Login: CleanLogin(login)})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryAccounts(ctx, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, id string, ua UpdateAccount) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	ua.clean(acc)
	if err := svc.validate.Struct(ua); err != nil {
		return Account{}, err
	}
	if err := svc.checkUniqueness(ctx, ua.Email, ua.Phone, acc.ID); err != nil {
		return Account{}, err
	}

	acc.Name = ua.Name
	acc.Phone = ua.Phone
	acc.Email = ua.Email
	acc.Children = ua.Children
	acc.Roles = ua.Roles
	if ua.IsActive != nil {
		acc.IsActive = *ua.IsActive
	}
	if ua.Password != "" {
		if err := acc.SetPassword(ua.Password); err != nil {
			return Account{}, errors.Wrap(err, "hashing password")
		}
	}
	acc.UpdatedAt = NowFunc().UTC()
	acc, err = svc.repo.UpdateAccount(ctx, acc)
	return acc, errors.Wrap(err, "updating account")
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	n, err := svc.repo.DeleteAccountsByID(ctx, ids)
	return n, errors.Wrap(err, "deleting accounts")
}

// RequestPasswordReset mails a reset link to the active account owning email. An unknown
// email returns ErrNotFound, which callers should not reveal.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: CleanLogin(email)})
	if err != nil {
		return err
	}
	if !acc.IsActive {
		return ErrNotFound
	}
	svc.sendMail(acc, "Password reset", "password_reset", map[string]string{
		"Name":  acc.Name,
		"UID":   EncodeUID(acc),
		"Token": svc.tokens.makeToken(acc),
	})
	return nil
}

// ResetPassword sets a new password once the uid and token from RequestPasswordReset check out.
func (svc *Service) ResetPassword(ctx context.Context, rp ResetPassword) error {
	if err := svc.validate.Struct(rp); err != nil {
		return err
	}
	invalid := core.NewValidationError(ErrInvalidToken, core.FieldError{Field: "token", Error: ErrInvalidToken.Error()})

	id, err := decodeUID(rp.UID)
	if err != nil {
		return invalid
	}
	acc, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalid
		}
		return errors.Wrap(err, "finding account by ID")
	}
	if err := svc.tokens.verifyToken(acc, rp.Token); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "token", Error: err.Error()})
	}
	if err := acc.SetPassword(rp.Password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	acc.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateAccount(ctx, acc)
	return errors.Wrap(err, "updating password")
}

// SetPassword replaces the password without checking the policy (admin CLI).
func (svc *Service) SetPassword(ctx context.Context, login, pwd string) error {
	acc, err := svc.GetByLogin(ctx, login)
	if err != nil {
		return err
	}
	if err := acc.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	acc.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateAccount(ctx, acc)
	return errors.Wrap(err, "updating password")
}

// EnsureAdmin creates or updates an active admin account reachable through email (admin CLI).
func (svc *Service) EnsureAdmin(ctx context.Context, name, email, pwd string) (Account, error) {
	email = CleanLogin(email)
	now := NowFunc().UTC()
	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: email})
	switch {
	case errors.Cause(err) == ErrNotFound:
		acc = Account{Email: email, Roles: []string{RoleAdmin}, CreatedAt: now}
	case err != nil:
		return Account{}, errors.Wrap(err, "finding account by email")
	}
	if name = cleanName(name); name != "" {
		acc.Name = name
	} else if acc.Name == "" {
		acc.Name = email
	}
	if !acc.IsAdmin() {
		acc.Roles = append(acc.Roles, RoleAdmin)
	}
	acc.IsActive = true
	acc.UpdatedAt = now
	if err := acc.SetPassword(pwd); err != nil {
		return Account{}, errors.Wrap(err, "hashing password")
	}
	if acc.ID == "" {
		acc, err = svc.repo.CreateAccount(ctx, acc)
		return acc, errors.Wrap(err, "creating account")
	}
	acc, err = svc.repo.UpdateAccount(ctx, acc)
	return acc, errors.Wrap(err, "updating account")
}

func (svc *Service) sendMail(acc Account, subject, template string, data interface{}) {
	if svc.mail == nil || acc.Email == "" {
		return
	}
	svc.mail.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: acc.Name, Address: acc.Email}},
		Subject:      subject,
		TemplateName: template,
		TemplateData: data,
	})
}

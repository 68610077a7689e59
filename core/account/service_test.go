package account_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
	inmemdb "github.com/azardenmark/dashboard-sub000/storage/database/inmem"
	"github.com/azardenmark/dashboard-sub000/testutil"
)

const strongPwd = "Kinder#Garten42"

type outbox struct {
	mu   sync.Mutex
	msgs []*core.EmailMessage
}

func (o *outbox) SendMessages(messages ...*core.EmailMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, messages...)
}

func (o *outbox) last() *core.EmailMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.msgs) == 0 {
		return nil
	}
	return o.msgs[len(o.msgs)-1]
}

func setup(t *testing.T) (*account.Service, account.Repository, *outbox) {
	repo := inmemdb.NewAccountRepository()
	mail := new(outbox)
	svc := account.NewService(account.Options{
		Repo:                 repo,
		Mail:                 mail,
		Logger:               testutil.NewLogger(t),
		SecretKey:            "test-secret",
		PasswordResetTimeout: 3 * 24 * time.Hour,
	})
	return svc, repo, mail
}

func fieldTags(err error) map[string]string {
	tags := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			tags[fe.Field()] = fe.Tag()
		}
	}
	if verr, ok := errors.Cause(err).(*core.ValidationError); ok {
		for _, fe := range verr.Fields {
			tags[fe.Field] = fe.Error
		}
	}
	return tags
}

func TestService_Register(t *testing.T) {
	svc, repo, mail := setup(t)
	testutil.CreateAccount(t, repo, "Existing", "taken@test.cd", "+243810000000", strongPwd, []string{account.RoleGuardian}, true)

	tests := []struct {
		name     string
		data     account.NewAccount
		wantTags map[string]string
	}{
		{
			name:     "email or phone required",
			data:     account.NewAccount{Name: "Amina", Password: strongPwd, PasswordConfirm: strongPwd},
			wantTags: map[string]string{"email": "email_or_phone", "phone": "email_or_phone"},
		},
		{
			name:     "password mismatch",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: strongPwd, PasswordConfirm: "nope"},
			wantTags: map[string]string{"password_confirm": "eqfield"},
		},
		{
			name:     "password too short",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: "Ab1!", PasswordConfirm: "Ab1!"},
			wantTags: map[string]string{"password": "pwdminlen"},
		},
		{
			name:     "password all numeric",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: "12345678", PasswordConfirm: "12345678"},
			wantTags: map[string]string{"password": "pwdnotallnum"},
		},
		{
			name:     "password not complex",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: "abcdefgh1", PasswordConfirm: "abcdefgh1"},
			wantTags: map[string]string{"password": "pwdcplx"},
		},
		{
			name:     "password similar to email",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: "Amina@test.cd1", PasswordConfirm: "Amina@test.cd1"},
			wantTags: map[string]string{"password": "pwdtoosim"},
		},
		{
			name:     "common password",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: "Kinder@123", PasswordConfirm: "Kinder@123"},
			wantTags: map[string]string{"password": "pwdnocommon"},
		},
		{
			name:     "invalid role",
			data:     account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: strongPwd, PasswordConfirm: strongPwd, Roles: []string{"teacher"}},
			wantTags: map[string]string{"roles": "allroles"},
		},
		{
			name: "invalid child birth date",
			data: account.NewAccount{Name: "Amina", Email: "amina@test.cd", Password: strongPwd, PasswordConfirm: strongPwd,
				Children: []account.Child{{Name: "Yusuf", BirthDate: "2020/01/01"}}},
			wantTags: map[string]string{"birth_date": "datetime"},
		},
		{
			name:     "email taken",
			data:     account.NewAccount{Name: "Amina", Email: " Taken@test.cd ", Password: strongPwd, PasswordConfirm: strongPwd},
			wantTags: map[string]string{"email": account.ErrEmailExists.Error()},
		},
		{
			name:     "phone taken",
			data:     account.NewAccount{Name: "Amina", Phone: "+243 81 000 0000", Password: strongPwd, PasswordConfirm: strongPwd},
			wantTags: map[string]string{"phone": account.ErrPhoneExists.Error()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.wantTags, fieldTags(err))
		})
	}

	t.Run("registered", func(t *testing.T) {
		acc, err := svc.Register(context.Background(), account.NewAccount{
			Name:            "  Amina   Kabila ",
			Email:           "Amina@Test.cd",
			Phone:           "+243 81-234 5678",
			Children:        []account.Child{{Name: "Yusuf", BirthDate: "2020-03-14"}},
			Password:        strongPwd,
			PasswordConfirm: strongPwd,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, acc.ID)
		assert.Equal(t, "Amina Kabila", acc.Name)
		assert.Equal(t, "amina@test.cd", acc.Email)
		assert.Equal(t, "+243812345678", acc.Phone)
		assert.Equal(t, []string{account.RoleGuardian}, acc.Roles)
		assert.True(t, acc.IsActive)
		assert.NoError(t, acc.CheckPassword(strongPwd))

		msg := mail.last()
		require.NotNil(t, msg)
		assert.Equal(t, "welcome", msg.TemplateName)
		assert.Equal(t, "amina@test.cd", msg.To[0].Address)
	})
}

func TestService_Authenticate(t *testing.T) {
	svc, repo, _ := setup(t)
	active := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "+243812345678", strongPwd, []string{account.RoleGuardian}, true)
	testutil.CreateAccount(t, repo, "Inactive", "inactive@test.cd", "", strongPwd, []string{account.RoleGuardian}, false)

	tests := []struct {
		name    string
		login   string
		pwd     string
		wantErr error
	}{
		{"unknown login", "nobody@test.cd", strongPwd, account.ErrInvalidCredentials},
		{"wrong password", "amina@test.cd", "wrong", account.ErrInvalidCredentials},
		{"deactivated", "inactive@test.cd", strongPwd, account.ErrAccountDeactivated},
		{"by email", " AMINA@test.cd", strongPwd, nil},
		{"by phone", "+243 81 234 5678", strongPwd, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := svc.Authenticate(context.Background(), tt.login, tt.pwd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, active.ID, acc.ID)
			assert.False(t, acc.LastLogin.IsZero())
		})
	}
}

func TestService_Update(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "", strongPwd, []string{account.RoleGuardian}, true)
	testutil.CreateAccount(t, repo, "Other", "other@test.cd", "+243810000000", strongPwd, []string{account.RoleGuardian}, true)

	_, err := svc.Update(ctx, acc.ID, account.UpdateAccount{Phone: "+243810000000"})
	assert.Equal(t, map[string]string{"phone": account.ErrPhoneExists.Error()}, fieldTags(err))

	_, err = svc.Update(ctx, "missing", account.UpdateAccount{Name: "X"})
	assert.Equal(t, account.ErrNotFound, errors.Cause(err))

	inactive := false
	newPwd := "Nouveau#Mot2Passe"
	updated, err := svc.Update(ctx, acc.ID, account.UpdateAccount{
		Name:            "Amina K.",
		IsActive:        &inactive,
		Roles:           []string{account.RoleGuardian, account.RoleAdmin},
		Password:        newPwd,
		PasswordConfirm: newPwd,
	})
	require.NoError(t, err)
	assert.Equal(t, "Amina K.", updated.Name)
	assert.Equal(t, "amina@test.cd", updated.Email)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.IsAdmin())
	assert.NoError(t, updated.CheckPassword(newPwd))
}

func TestService_PasswordReset(t *testing.T) {
	svc, repo, mail := setup(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "", strongPwd, []string{account.RoleGuardian}, true)

	assert.Equal(t, account.ErrNotFound, errors.Cause(svc.RequestPasswordReset(ctx, "nobody@test.cd")))
	require.NoError(t, svc.RequestPasswordReset(ctx, "Amina@test.cd"))

	msg := mail.last()
	require.NotNil(t, msg)
	assert.Equal(t, "password_reset", msg.TemplateName)
	data := msg.TemplateData.(map[string]string)
	uid, token := data["UID"], data["Token"]
	assert.Equal(t, account.EncodeUID(acc), uid)

	newPwd := "Nouveau#Mot2Passe"
	tests := []struct {
		name     string
		data     account.ResetPassword
		wantTags map[string]string
	}{
		{
			name:     "weak password",
			data:     account.ResetPassword{UID: uid, Token: token, Password: "weak", PasswordConfirm: "weak"},
			wantTags: map[string]string{"password": "pwdminlen"},
		},
		{
			name:     "bad uid",
			data:     account.ResetPassword{UID: "%%%", Token: token, Password: newPwd, PasswordConfirm: newPwd},
			wantTags: map[string]string{"token": account.ErrInvalidToken.Error()},
		},
		{
			name:     "bad token",
			data:     account.ResetPassword{UID: uid, Token: "HE4TS-sig", Password: newPwd, PasswordConfirm: newPwd},
			wantTags: map[string]string{"token": account.ErrInvalidToken.Error()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ResetPassword(ctx, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.wantTags, fieldTags(err))
		})
	}

	require.NoError(t, svc.ResetPassword(ctx, account.ResetPassword{UID: uid, Token: token, Password: newPwd, PasswordConfirm: newPwd}))
	acc, err := svc.Get(ctx, acc.ID)
	require.NoError(t, err)
	assert.NoError(t, acc.CheckPassword(newPwd))

	// the token dies with the old password hash
	err = svc.ResetPassword(ctx, account.ResetPassword{UID: uid, Token: token, Password: strongPwd, PasswordConfirm: strongPwd})
	assert.Equal(t, map[string]string{"token": account.ErrInvalidToken.Error()}, fieldTags(err))
	assert.False(t, strings.Contains(url.PathEscape(token), "%"), "token must be URL safe")
}

func TestService_EnsureAdminAndSetPassword(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	admin, err := svc.EnsureAdmin(ctx, "", "Root@Test.cd", "pwd")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, "root@test.cd", admin.Name)

	guardian := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "", strongPwd, []string{account.RoleGuardian}, false)
	promoted, err := svc.EnsureAdmin(ctx, "Amina K.", "amina@test.cd", "pwd2")
	require.NoError(t, err)
	assert.Equal(t, guardian.ID, promoted.ID)
	assert.Equal(t, []string{account.RoleGuardian, account.RoleAdmin}, promoted.Roles)
	assert.True(t, promoted.IsActive)

	require.NoError(t, svc.SetPassword(ctx, "amina@test.cd", "pwd3"))
	acc, err := svc.Get(ctx, guardian.ID)
	require.NoError(t, err)
	assert.NoError(t, acc.CheckPassword("pwd3"))

	assert.Equal(t, account.ErrNotFound, errors.Cause(svc.SetPassword(ctx, "nobody@test.cd", "x")))
}

func TestService_QueryAndDelete(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	base := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	a := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "", strongPwd, []string{account.RoleGuardian}, true, base)
	b := testutil.CreateAccount(t, repo, "Bakari", "bakari@test.cd", "", strongPwd, []string{account.RoleAdmin}, true, base.Add(time.Hour))
	c := testutil.CreateAccount(t, repo, "Chausiku", "", "+243811111111", strongPwd, []string{account.RoleGuardian}, false, base.Add(2*time.Hour))

	active := true
	tests := []struct {
		name     string
		filter   *account.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{"all", nil, nil, []string{a.ID, b.ID, c.ID}},
		{"search", &account.QueryFilter{Search: " AMI "}, nil, []string{a.ID}},
		{"role", &account.QueryFilter{Roles: []string{account.RoleGuardian}}, nil, []string{a.ID, c.ID}},
		{"active", &account.QueryFilter{IsActive: &active}, nil, []string{a.ID, b.ID}},
		{"created range", &account.QueryFilter{CreatedFrom: base.Add(30 * time.Minute), CreatedTo: base.Add(90 * time.Minute)}, nil, []string{b.ID}},
		{"ordered by name desc", nil, []core.DBOrdering{{Field: "name"}}, []string{c.ID, b.ID, a.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts, err := svc.Query(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			ids := make([]string, 0, len(accounts))
			for _, acc := range accounts {
				ids = append(ids, acc.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	n, err := svc.Delete(ctx, a.ID, c.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = svc.Get(ctx, a.ID)
	assert.Equal(t, account.ErrNotFound, errors.Cause(err))
}

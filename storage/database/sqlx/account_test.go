package sqlxrepos_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
	"github.com/azardenmark/dashboard-sub000/storage/database"
	sqlxrepos "github.com/azardenmark/dashboard-sub000/storage/database/sqlx"
	"github.com/azardenmark/dashboard-sub000/testutil"
)

func prepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	conf := core.DatabaseConfig{Engine: database.EngineSQLite, Name: filepath.Join(t.TempDir(), "accounts.db")}
	db, err := database.Open(ctx, conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, conf.Engine))
	return db
}

func TestAccountRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewAccountRepository(prepareDB(t))

	created := time.Date(2024, 9, 1, 8, 30, 0, 0, time.UTC)
	acc := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "", "pwd", []string{account.RoleGuardian}, true, created)
	assert.NotEmpty(t, acc.ID)

	got, err := repo.GetAccount(ctx, account.GetFilter{ID: acc.ID})
	require.NoError(t, err)
	assert.Equal(t, "Amina", got.Name)
	assert.Equal(t, "", got.Phone)
	assert.Equal(t, []string{account.RoleGuardian}, got.Roles)
	assert.Equal(t, []account.Child{}, got.Children)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.LastLogin.IsZero())
	assert.NoError(t, got.CheckPassword("pwd"))

	got.Phone = "+243812345678"
	got.Children = []account.Child{{Name: "Yusuf", BirthDate: "2020-03-14"}}
	got.LastLogin = created.Add(time.Hour)
	_, err = repo.UpdateAccount(ctx, got)
	require.NoError(t, err)

	tests := []struct {
		name    string
		filter  account.GetFilter
		wantErr error
	}{
		{"by email", account.GetFilter{Email: "amina@test.cd"}, nil},
		{"by phone", account.GetFilter{Phone: "+243812345678"}, nil},
		{"by login email", account.GetFilter{Login: "amina@test.cd"}, nil},
		{"by login phone", account.GetFilter{Login: "+243812345678"}, nil},
		{"malformed id", account.GetFilter{ID: "nope"}, account.ErrNotFound},
		{"unknown id", account.GetFilter{ID: "8b0e3b8a-5c7e-4a36-9f0e-1f2b8a6c9d11"}, account.ErrNotFound},
		{"empty filter", account.GetFilter{}, account.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := repo.GetAccount(ctx, tt.filter)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, acc.ID, found.ID)
			assert.Equal(t, []account.Child{{Name: "Yusuf", BirthDate: "2020-03-14"}}, found.Children)
			assert.True(t, found.LastLogin.Equal(created.Add(time.Hour)))
		})
	}

	_, err = repo.UpdateAccount(ctx, account.Account{ID: "8b0e3b8a-5c7e-4a36-9f0e-1f2b8a6c9d11", Name: "Ghost"})
	assert.Equal(t, account.ErrNotFound, errors.Cause(err))
}

func TestAccountRepository_CheckUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewAccountRepository(prepareDB(t))
	acc := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "+243812345678", "pwd", nil, true)

	tests := []struct {
		name     string
		email    string
		phone    string
		excluded []string
		want     error
	}{
		{"nothing to check", "", "", nil, nil},
		{"free", "other@test.cd", "+243810000000", nil, nil},
		{"email taken", "amina@test.cd", "+243810000000", nil, account.ErrEmailExists},
		{"phone taken", "other@test.cd", "+243812345678", nil, account.ErrPhoneExists},
		{"both taken", "amina@test.cd", "+243812345678", nil, account.ErrEmailExists},
		{"owner excluded", "amina@test.cd", "+243812345678", []string{acc.ID}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repo.CheckUniqueness(ctx, tt.email, tt.phone, tt.excluded...))
		})
	}
}

func TestAccountRepository_QueryAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := sqlxrepos.NewAccountRepository(prepareDB(t))
	base := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	a := testutil.CreateAccount(t, repo, "Amina", "amina@test.cd", "", "pwd", []string{account.RoleGuardian}, true, base)
	b := testutil.CreateAccount(t, repo, "Bakari", "bakari@test.cd", "", "pwd", []string{account.RoleAdmin, account.RoleGuardian}, true, base.Add(time.Hour))
	c := testutil.CreateAccount(t, repo, "Chausiku", "", "+243811111111", "pwd", []string{account.RoleGuardian}, false, base.Add(2*time.Hour))

	active := true
	tests := []struct {
		name     string
		filter   *account.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{"all", nil, nil, []string{a.ID, b.ID, c.ID}},
		{"search name", &account.QueryFilter{Search: "bak"}, nil, []string{b.ID}},
		{"search phone", &account.QueryFilter{Search: "81111"}, nil, []string{c.ID}},
		{"admins", &account.QueryFilter{Roles: []string{account.RoleAdmin}}, nil, []string{b.ID}},
		{"active", &account.QueryFilter{IsActive: &active}, nil, []string{a.ID, b.ID}},
		{"created from", &account.QueryFilter{CreatedFrom: base.Add(90 * time.Minute)}, nil, []string{c.ID}},
		{"ordered by name desc", nil, []core.DBOrdering{{Field: "name"}}, []string{c.ID, b.ID, a.ID}},
		{"unknown ordering ignored", nil, []core.DBOrdering{{Field: "password_hash; DROP TABLE accounts"}}, []string{a.ID, b.ID, c.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts, err := repo.QueryAccounts(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			ids := make([]string, 0, len(accounts))
			for _, acc := range accounts {
				ids = append(ids, acc.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	n, err := repo.DeleteAccountsByID(ctx, []string{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = repo.DeleteAccountsByID(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := repo.QueryAccounts(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, b.ID, left[0].ID)
}

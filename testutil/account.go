package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core/account"
)

// CreateAccount stores an account straight through the repository, bypassing validation.
func CreateAccount(
	t *testing.T,
	repo account.Repository,
	name, email, phone, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) account.Account {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acc := account.Account{
		Name:      name,
		Email:     email,
		Phone:     phone,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		require.NoError(t, acc.SetPassword(pwd))
	}
	acc, err := repo.CreateAccount(context.Background(), acc)
	require.NoError(t, err)
	return acc
}

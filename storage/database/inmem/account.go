// Package inmemdb keeps accounts in memory for tests and local development.
package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
)

type accountRepository struct {
	mu    sync.RWMutex
	table map[string]account.Account
}

var _ account.Repository = (*accountRepository)(nil)

func NewAccountRepository() *accountRepository {
	return &accountRepository{table: make(map[string]account.Account)}
}

func (repo *accountRepository) CheckUniqueness(ctx context.Context, email, phone string, excludedIDs ...string) error {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	excluded := make(map[string]bool, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = true
	}
	for _, acc := range repo.table {
		if excluded[acc.ID] {
			continue
		}
		if email != "" && acc.Email == email {
			return account.ErrEmailExists
		}
		if phone != "" && acc.Phone == phone {
			return account.ErrPhoneExists
		}
	}
	return nil
}

func (repo *accountRepository) CreateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	acc.ID = uuid.New().String()
	repo.table[acc.ID] = acc
	return acc, nil
}

func (repo *accountRepository) QueryAccounts(ctx context.Context, filter *account.QueryFilter, ordering []core.DBOrdering) ([]account.Account, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	accounts := make([]account.Account, 0, len(repo.table))
	for _, acc := range repo.table {
		if filter == nil || matches(acc, filter) {
			accounts = append(accounts, acc)
		}
	}
	sortAccounts(accounts, ordering)
	return accounts, nil
}

func (repo *accountRepository) GetAccount(ctx context.Context, filter account.GetFilter) (account.Account, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if filter.ID != "" {
		if acc, ok := repo.table[filter.ID]; ok {
			return acc, nil
		}
		return account.Account{}, account.ErrNotFound
	}
	for _, acc := range repo.table {
		switch {
		case filter.Email != "" && acc.Email == filter.Email,
			filter.Phone != "" && acc.Phone == filter.Phone,
			filter.Login != "" && (acc.Email == filter.Login || acc.Phone == filter.Login):
			return acc, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *accountRepository) UpdateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.table[acc.ID]; !ok {
		return account.Account{}, account.ErrNotFound
	}
	repo.table[acc.ID] = acc
	return acc, nil
}

func (repo *accountRepository) DeleteAccountsByID(ctx context.Context, ids []string) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.table[id]; ok {
			delete(repo.table, id)
			n++
		}
	}
	return n, nil
}

func matches(acc account.Account, filter *account.QueryFilter) bool {
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(acc.Name), search) ||
			strings.Contains(acc.Email, search) ||
			strings.Contains(acc.Phone, search)) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		found := false
		for _, role := range filter.Roles {
			if acc.HasRole(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && acc.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && acc.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && acc.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

// sortAccounts orders by the given fields (name, email, created_at), then by creation time.
func sortAccounts(accounts []account.Account, ordering []core.DBOrdering) {
	less := func(a, b account.Account, field string) (bool, bool) {
		switch field {
		case "name":
			return a.Name < b.Name, a.Name == b.Name
		case "email":
			return a.Email < b.Email, a.Email == b.Email
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
		return false, true
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		for _, ord := range ordering {
			lt, eq := less(accounts[i], accounts[j], ord.Field)
			if eq {
				continue
			}
			return lt == ord.Ascending
		}
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
}

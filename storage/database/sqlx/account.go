// Package sqlxrepos implements the account repository over Postgres or SQLite with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const accountColumns = "id, name, phone, email, password_hash, children, roles, is_active, created_at, updated_at, last_login"

// orderable maps the ordering fields accepted from clients to columns.
var orderable = map[string]string{
	"name":       "name",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

type accountRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Phone        null.String `db:"phone"`
	Email        null.String `db:"email"`
	PasswordHash string      `db:"password_hash"`
	Children     string      `db:"children"`
	Roles        string      `db:"roles"`
	IsActive     bool        `db:"is_active"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

type accountRepository struct {
	db *sqlx.DB
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *sqlx.DB) *accountRepository {
	return &accountRepository{db: db}
}

func (repo accountRepository) toRow(acc account.Account) (accountRow, error) {
	children := acc.Children
	if children == nil {
		children = []account.Child{}
	}
	raw, err := json.Marshal(children)
	if err != nil {
		return accountRow{}, errors.Wrap(err, "encoding children")
	}
	return accountRow{
		ID:           acc.ID,
		Name:         acc.Name,
		Phone:        null.NewString(acc.Phone, acc.Phone != ""),
		Email:        null.NewString(acc.Email, acc.Email != ""),
		PasswordHash: string(acc.PasswordHash),
		Children:     string(raw),
		Roles:        joinRoles(acc.Roles),
		IsActive:     acc.IsActive,
		CreatedAt:    acc.CreatedAt.UTC(),
		UpdatedAt:    acc.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(acc.LastLogin.UTC(), !acc.LastLogin.IsZero()),
	}, nil
}

func (repo accountRepository) fromRow(row accountRow) (account.Account, error) {
	var children []account.Child
	if err := json.Unmarshal([]byte(row.Children), &children); err != nil {
		return account.Account{}, errors.Wrap(err, "decoding children")
	}
	acc := account.Account{
		ID:           row.ID,
		Name:         row.Name,
		Phone:        row.Phone.String,
		Email:        row.Email.String,
		Children:     children,
		Roles:        splitRoles(row.Roles),
		IsActive:     row.IsActive,
		PasswordHash: []byte(row.PasswordHash),
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		acc.LastLogin = row.LastLogin.Time.UTC()
	}
	return acc, nil
}

// trapNoRowsErr maps "no rows" to account.ErrNotFound
func (repo accountRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return account.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo accountRepository) CheckUniqueness(ctx context.Context, email, phone string, excludedIDs ...string) error {
	var conds []string
	var args []interface{}
	if email != "" {
		conds = append(conds, "email = ?")
		args = append(args, email)
	}
	if phone != "" {
		conds = append(conds, "phone = ?")
		args = append(args, phone)
	}
	if len(conds) == 0 {
		return nil
	}
	query := "SELECT email, phone FROM accounts WHERE (" + strings.Join(conds, " OR ") + ")"
	if len(excludedIDs) > 0 {
		q, inArgs, err := sqlx.In(" AND id NOT IN (?)", excludedIDs)
		if err != nil {
			return errors.Wrap(err, "building uniqueness query")
		}
		query += q
		args = append(args, inArgs...)
	}

	var taken []struct {
		Email null.String `db:"email"`
		Phone null.String `db:"phone"`
	}
	if err := repo.db.SelectContext(ctx, &taken, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "checking account uniqueness")
	}
	for _, t := range taken {
		if email != "" && t.Email.String == email {
			return account.ErrEmailExists
		}
	}
	if len(taken) > 0 {
		return account.ErrPhoneExists
	}
	return nil
}

func (repo accountRepository) CreateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	acc.ID = uuid.New().String()
	row, err := repo.toRow(acc)
	if err != nil {
		return account.Account{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES
		(:id, :name, :phone, :email, :password_hash, :children, :roles, :is_active, :created_at, :updated_at, :last_login)`, row)
	if err != nil {
		return account.Account{}, errors.Wrap(err, "inserting account")
	}
	return repo.fromRow(row)
}

func (repo accountRepository) QueryAccounts(ctx context.Context, filter *account.QueryFilter, ordering []core.DBOrdering) ([]account.Account, error) {
	var conds []string
	var args []interface{}

	if filter != nil {
		// accounts with Name, Email or Phone matching the search keyword
		if filter.Search != "" {
			val := "%" + strings.ToLower(filter.Search) + "%"
			conds = append(conds, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?)")
			args = append(args, val, val, val)
		}
		// accounts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleConds := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleConds = append(roleConds, "roles LIKE ?")
				args = append(args, "%,"+role+",%")
			}
			conds = append(conds, "("+strings.Join(roleConds, " OR ")+")")
		}
		if filter.IsActive != nil {
			conds = append(conds, "is_active = ?")
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, "created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, "created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	query := "SELECT " + accountColumns + " FROM accounts"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if col, ok := orderable[ord.Field]; ok {
			orderList = append(orderList, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	orderList = append(orderList, "created_at ASC", "id ASC")
	query += " ORDER BY " + strings.Join(orderList, ", ")

	var rows []accountRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	accounts := make([]account.Account, 0, len(rows))
	for _, row := range rows {
		acc, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func (repo accountRepository) GetAccount(ctx context.Context, filter account.GetFilter) (account.Account, error) {
	var cond string
	var args []interface{}
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return account.Account{}, account.ErrNotFound
		}
		cond, args = "id = ?", []interface{}{filter.ID}
	case filter.Email != "":
		cond, args = "email = ?", []interface{}{filter.Email}
	case filter.Phone != "":
		cond, args = "phone = ?", []interface{}{filter.Phone}
	case filter.Login != "":
		cond, args = "(email = ? OR phone = ?)", []interface{}{filter.Login, filter.Login}
	default:
		return account.Account{}, account.ErrNotFound
	}

	var row accountRow
	query := "SELECT " + accountColumns + " FROM accounts WHERE " + cond + " LIMIT 1"
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind(query), args...); err != nil {
		return account.Account{}, repo.trapNoRowsErr(err, "finding account")
	}
	return repo.fromRow(row)
}

func (repo accountRepository) UpdateAccount(ctx context.Context, acc account.Account) (account.Account, error) {
	row, err := repo.toRow(acc)
	if err != nil {
		return account.Account{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, `UPDATE accounts SET
		name = :name, phone = :phone, email = :email, password_hash = :password_hash, children = :children,
		roles = :roles, is_active = :is_active, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`, row)
	if err != nil {
		return account.Account{}, errors.Wrap(err, "updating account")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return account.Account{}, account.ErrNotFound
	}
	return repo.fromRow(row)
}

func (repo accountRepository) DeleteAccountsByID(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In("DELETE FROM accounts WHERE id IN (?)", ids)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting accounts")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting accounts")
}

// joinRoles stores roles as ",admin,guardian," so that a role matches with LIKE '%,role,%'.
func joinRoles(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	return "," + strings.Join(roles, ",") + ","
}

func splitRoles(s string) []string {
	s = strings.Trim(s, ",")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

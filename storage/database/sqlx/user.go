package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// userRow is the users table layout; empty usernames and emails are stored as NULL.
type userRow struct {
	ID           int64          `db:"id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	row := userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        pq.StringArray(usr.Roles),
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.TimeFromPtr(usr.LastLogin),
	}
	if row.Roles == nil {
		row.Roles = pq.StringArray{}
	}
	if row.PasswordHash == nil {
		row.PasswordHash = []byte{}
	}
	return row
}

func (row userRow) user() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		IsActive:     row.IsActive,
		Roles:        []string(row.Roles),
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		t := row.LastLogin.Time.UTC()
		usr.LastLogin = &t
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	return usr
}

const userColumns = `id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"id":        "id",
	"name":      "name",
	"username":  "username",
	"email":     "email",
	"isActive":  "is_active",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"lastLogin": "last_login",
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db core.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	var (
		conds []string
		args  []interface{}
	)
	if username != "" {
		conds = append(conds, "username = ?")
		args = append(args, username)
	}
	if email != "" {
		conds = append(conds, "email = ?")
		args = append(args, email)
	}
	if len(conds) == 0 {
		return nil
	}

	q := `SELECT username, email FROM users WHERE (` + strings.Join(conds, " OR ") + `)`
	if len(excludedUsers) > 0 {
		ids := make([]int64, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		q += ` AND id NOT IN (?)`
		args = append(args, ids)
	}
	q, args, err := sqlx.In(q+` LIMIT 1`, args...)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var taken struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	err = repo.db.GetContext(ctx, &taken, repo.db.Rebind(q), args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return errors.Wrap(err, "checking username uniqueness")
	case username != "" && taken.Username.String == username:
		return user.ErrUsernameExists
	}
	return user.ErrEmailExists
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	const q = `
	INSERT INTO users (name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login)
	VALUES (:name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)
	RETURNING ` + userColumns

	return repo.namedGet(ctx, q, newUserRow(usr), "creating user")
}

func (repo *userRepository) namedGet(ctx context.Context, q string, row userRow, action string) (user.User, error) {
	q, args, err := sqlx.Named(q, row)
	if err != nil {
		return user.User{}, errors.Wrap(err, action)
	}
	var out userRow
	if err := repo.db.GetContext(ctx, &out, repo.db.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, action)
	}
	return out.user(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter != nil {
		filter.Clean()
		if filter.Search != "" {
			conds = append(conds, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			pattern := "%" + filter.Search + "%"
			args = append(args, pattern, pattern, pattern)
		}
		if len(filter.Roles) > 0 {
			// a role prefix such as "admin:" matches every admin role
			var roleConds []string
			for _, role := range filter.Roles {
				roleConds = append(roleConds, "EXISTS (SELECT 1 FROM unnest(roles) r WHERE r LIKE ?)")
				args = append(args, role+"%")
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

	q := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY ` + core.OrderBy(ordering, userOrderings, "created_at DESC, id DESC")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.user())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		q   = `SELECT ` + userColumns + ` FROM users WHERE `
		arg interface{}
	)
	switch {
	case filter.ID != 0:
		q += `id = $1`
		arg = filter.ID
	case filter.UsernameOrEmail != "":
		q += `(username = $1 OR email = $1)`
		arg = filter.UsernameOrEmail
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "selecting user")
	}
	return row.user(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	const q = `
	UPDATE users SET
		name = :name,
		username = :username,
		email = :email,
		is_active = :is_active,
		roles = :roles,
		password_hash = :password_hash,
		updated_at = :updated_at,
		last_login = :last_login
	WHERE id = :id
	RETURNING ` + userColumns

	return repo.namedGet(ctx, q, newUserRow(usr), "updating user")
}

// UpdateOrCreateUser updates the user having the same username or email, or creates it.
func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	uname := usr.Username
	if uname == "" {
		uname = usr.Email
	}
	existing, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: uname})
	switch {
	case core.IsNotFound(err):
		return repo.CreateUser(ctx, usr)
	case err != nil:
		return user.User{}, err
	}

	usr.ID = existing.ID
	usr.CreatedAt = existing.CreatedAt
	usr.LastLogin = existing.LastLogin
	return repo.UpdateUser(ctx, usr)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	if _, err := repo.db.ExecContext(ctx, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

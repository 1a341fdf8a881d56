package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

// query returns a copy of every user, newest first.
func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].ID > users[j].ID
	})
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.query() {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.lastID++
	usr.ID = repo.db.lastID
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter != nil {
		filter.Clean()
	}
	users := make([]user.User, 0, len(repo.db.table))
	for _, usr := range repo.query() {
		if filter == nil || matches(usr, filter) {
			users = append(users, usr)
		}
	}
	// stable sorts applied from the last ordering to the first
	for i := len(ordering) - 1; i >= 0; i-- {
		if less := userLess(ordering[i]); less != nil {
			sort.SliceStable(users, func(a, b int) bool { return less(users[a], users[b]) })
		}
	}
	return users, nil
}

func matches(usr user.User, filter *user.QueryFilter) bool {
	if s := strings.ToLower(filter.Search); s != "" {
		if !strings.Contains(strings.ToLower(usr.Name), s) &&
			!strings.Contains(strings.ToLower(usr.Username), s) &&
			!strings.Contains(strings.ToLower(usr.Email), s) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		found := false
		for _, role := range filter.Roles {
			if usr.RoleStartsWith(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func userLess(ord core.DBOrdering) func(a, b user.User) bool {
	var less func(a, b user.User) bool
	switch ord.Field {
	case "id":
		less = func(a, b user.User) bool { return a.ID < b.ID }
	case "name":
		less = func(a, b user.User) bool { return a.Name < b.Name }
	case "username":
		less = func(a, b user.User) bool { return a.Username < b.Username }
	case "email":
		less = func(a, b user.User) bool { return a.Email < b.Email }
	case "createdAt":
		less = func(a, b user.User) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		return nil
	}
	if ord.Ascending {
		return less
	}
	return func(a, b user.User) bool { return less(b, a) }
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	switch {
	case filter.ID != 0:
		if usr, ok := repo.db.table[filter.ID]; ok {
			return *usr, nil
		}
	case filter.UsernameOrEmail != "":
		for _, usr := range repo.query() {
			if usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail {
				return usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	uname := usr.Username
	if uname == "" {
		uname = usr.Email
	}
	existing, err := repo.GetUser(ctx, user.GetFilter{UsernameOrEmail: uname})
	if err != nil {
		return repo.CreateUser(ctx, usr)
	}
	usr.ID = existing.ID
	usr.CreatedAt = existing.CreatedAt
	usr.LastLogin = existing.LastLogin
	return repo.UpdateUser(ctx, usr)
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...int64) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return true
		}
	}
	return false
}

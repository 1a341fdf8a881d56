// Package inmemdb keeps users in process memory. It backs the API and admin CLI tests.
package inmemdb

import (
	"sync"

	"github.com/trezcool/shule/core/user"
)

type (
	DB struct {
		user *userTable
	}

	userTable struct {
		table  map[int64]*user.User
		lastID int64
		mutex  sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[int64]*user.User)},
	}
}

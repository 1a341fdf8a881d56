// Package testutil holds helpers shared by tests that need a database.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage/database"
)

const truncateAll = `
TRUNCATE users, school_years, teachers, students, subjects, classes, class_subjects, class_students, student_grades
RESTART IDENTITY CASCADE`

// PrepareDB connects to the test database, migrates it and empties every table.
// The test is skipped when no database is reachable.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	conf := core.NewTestConfig()
	db, err := database.Wait(conf, 2)
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err := db.Exec(truncateAll); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

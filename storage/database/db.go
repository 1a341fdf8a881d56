package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/shule/core"
	appfs "github.com/trezcool/shule/fs"
)

const migrationsDir = "migrations"

func dsn(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func open(dbName string, admin bool, conf *core.Config) (*sqlx.DB, error) {
	return sqlx.Open(conf.Database.Engine, dsn(dbName, admin, conf))
}

// Open opens the application database with the configured pool limits.
func Open(conf *core.Config) (*sqlx.DB, error) {
	db, err := open(conf.Database.Name, false, conf)
	if err != nil {
		return nil, err
	}
	if conf.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(conf.Database.MaxOpenConns)
	}
	if conf.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(conf.Database.MaxIdleConns)
	}
	return db, nil
}

// StatusCheck returns nil if it can successfully talk to the database.
func StatusCheck(ctx context.Context, db core.DB) error {
	const q = `SELECT true`
	var tmp bool
	return db.QueryRowxContext(ctx, q).Scan(&tmp)
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB, maxAttempts int) error {
	var err error
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

// Wait opens the application database and waits for it to answer, giving up after maxAttempts pings.
func Wait(conf *core.Config, maxAttempts int) (*sqlx.DB, error) {
	db, err := Open(conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := ping(db, maxAttempts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func exists(db *sqlx.DB, q, name string) (bool, error) {
	var found bool
	err := db.Get(&found, q, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return found, err
}

func createAppUser(db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}

	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		q := fmt.Sprintf(
			"CREATE USER %s CREATEDB ENCRYPTED PASSWORD %s",
			pq.QuoteIdentifier(conf.Database.User),
			pq.QuoteLiteral(conf.Database.Password),
		)
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sqlx.DB, conf *core.Config) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the application role and database using the admin credentials.
func CreateIfNotExist(conf *core.Config) error {
	// connect as admin
	db, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()

	if err = ping(db, 30); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(db, conf); err != nil {
		return errors.Wrap(err, "creating app user")
	}

	// create DB as app user
	appDB, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = appDB.Close() }()

	if err = createDB(appDB, conf); err != nil {
		return errors.Wrap(err, "creating database")
	}
	return nil
}

// PrepareMigrations points goose to the embedded migrations.
func PrepareMigrations() error {
	goose.SetBaseFS(appfs.FS)
	return goose.SetDialect("postgres")
}

// Migrate applies every pending migration.
func Migrate(db *sqlx.DB) error {
	if err := PrepareMigrations(); err != nil {
		return errors.Wrap(err, "preparing migrations")
	}
	if err := goose.Up(db.DB, migrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// RunMigration runs a goose command ("up", "down", "status", "redo", ...) against the embedded migrations.
func RunMigration(db *sqlx.DB, command string, args ...string) error {
	if err := PrepareMigrations(); err != nil {
		return errors.Wrap(err, "preparing migrations")
	}
	return goose.Run(command, db.DB, migrationsDir, args...)
}

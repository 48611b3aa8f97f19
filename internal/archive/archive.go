// Package archive persists bulk survey runs and their outcomes so a run
// can be replayed after the client that started it has gone away.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/panelsim/panelsim/internal/config"
)

const (
	driverLibsql   = "libsql"
	driverPostgres = "postgres"
)

// ErrNotFound is returned when a batch does not exist.
var ErrNotFound = errors.New("batch not found")

// Archive wraps the database connection and its query dialect.
type Archive struct {
	DB     *sql.DB
	driver string
	qb     *goqu.Database
}

// Open initializes an archive connection using the provided configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (*Archive, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		sqlDriver string
		dialect   string
		dsn       string
		err       error
	)
	switch driver {
	case driverLibsql:
		sqlDriver, dialect = driverLibsql, "sqlite3"
		dsn, err = buildLibsqlDSN(cfg)
	case driverPostgres:
		sqlDriver, dialect = "pgx", driverPostgres
		dsn = strings.TrimSpace(cfg.URL)
		if dsn == "" {
			err = errors.New("store url is required for postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s archive: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s archive: %w", driver, err)
	}

	return &Archive{DB: db, driver: driver, qb: goqu.New(dialect, db)}, nil
}

// Close releases database resources.
func (a *Archive) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Driver returns the configured store driver.
func (a *Archive) Driver() string {
	if a == nil {
		return ""
	}
	return a.driver
}

func (a *Archive) ready() error {
	if a == nil || a.DB == nil || a.qb == nil {
		return errors.New("archive is not initialized")
	}
	return nil
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == ":memory:", strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		parsed, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid store path: %w", err)
		}
		local := parsed.Path
		if local == "" {
			local = parsed.Opaque
		}
		if err := ensureDir(strings.TrimPrefix(local, "//")); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := ensureDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

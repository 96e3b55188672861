package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
	// PostgreSQL driver, registered as "postgres".
	_ "github.com/lib/pq"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver converts a config value to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(s) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", s)
	}
}

// SQLStorage implements Storage on SQLite or PostgreSQL.
type SQLStorage struct {
	driver Driver
	dsn    string
	db     *sql.DB

	tenants     *sqlTenantRepo
	rules       *sqlRuleRepo
	products    *sqlProductRepo
	sales       *sqlSaleRepo
	alertEvents *sqlAlertEventRepo
}

// NewSQLiteStorage creates a storage backed by the SQLite file at path.
func NewSQLiteStorage(path string) *SQLStorage {
	return &SQLStorage{driver: DriverSQLite, dsn: path}
}

// NewPostgresStorage creates a storage backed by PostgreSQL.
func NewPostgresStorage(dsn string) *SQLStorage {
	return &SQLStorage{driver: DriverPostgres, dsn: dsn}
}

// New creates a storage for the given driver.
func New(driver Driver, dsn string) *SQLStorage {
	return &SQLStorage{driver: driver, dsn: dsn}
}

// NewWithDB wraps an already opened connection. Open must not be called.
func NewWithDB(db *sql.DB, driver Driver) *SQLStorage {
	s := &SQLStorage{driver: driver}
	s.attach(db)
	return s
}

// Open initializes the database connection.
func (s *SQLStorage) Open() error {
	ctx := context.Background()

	if s.dsn == "" {
		return fmt.Errorf("database dsn is required")
	}

	dsn := s.dsn
	if s.driver == DriverSQLite {
		dsn = sqliteDSN(s.dsn)
	}

	db, err := sql.Open(string(s.driver), dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if s.driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite is single-writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.attach(db)
	return nil
}

func (s *SQLStorage) attach(db *sql.DB) {
	s.db = db
	c := conn{db: db, driver: s.driver}
	s.tenants = &sqlTenantRepo{conn: c}
	s.rules = &sqlRuleRepo{conn: c}
	s.products = &sqlProductRepo{conn: c}
	s.sales = &sqlSaleRepo{conn: c}
	s.alertEvents = &sqlAlertEventRepo{conn: c}
}

// sqliteDSN enables foreign keys, WAL and a sortable UTC time format.
func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLStorage) DB() *sql.DB {
	return s.db
}

// Driver returns the configured driver.
func (s *SQLStorage) Driver() Driver {
	return s.driver
}

// Ping checks the database connection.
func (s *SQLStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not open")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLStorage) Migrate() error {
	return runMigrations(conn{db: s.db, driver: s.driver})
}

// Tenants returns the tenant repository.
func (s *SQLStorage) Tenants() TenantRepository {
	return s.tenants
}

// Rules returns the alert rule repository.
func (s *SQLStorage) Rules() RuleRepository {
	return s.rules
}

// Products returns the product repository.
func (s *SQLStorage) Products() ProductRepository {
	return s.products
}

// Sales returns the sale repository.
func (s *SQLStorage) Sales() SaleRepository {
	return s.sales
}

// AlertEvents returns the alert event repository.
func (s *SQLStorage) AlertEvents() AlertEventRepository {
	return s.alertEvents
}

// conn runs queries written with "?" placeholders against either dialect.
type conn struct {
	db     *sql.DB
	driver Driver
}

func (c conn) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (c conn) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, c.rebind(query), args...)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// inClause returns "col IN (?, ?, ...)" and its args. Empty values yield "".
func inClause(col string, values []string) (string, []interface{}) {
	if len(values) == 0 {
		return "", nil
	}
	marks := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

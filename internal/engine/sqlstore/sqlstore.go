// Package sqlstore keeps the record log in a relational table: sqlite through
// modernc.org/sqlite or postgres through lib/pq. Transaction time is a clock
// row bumped under lock by every commit; snapshots filter on it.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var safeIdent = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

type Engine struct {
	db      *sql.DB
	driver  string
	dsn     string
	dialect query.SQLDialect
}

// Open connects and creates the schema. For sqlite the pool is limited to a
// single connection: an in-memory database exists per connection and sqlite
// has one writer anyway.
func Open(ctx context.Context, driver, dsn string) (*Engine, error) {
	var dialect query.SQLDialect
	switch driver {
	case DriverSQLite:
		dialect = query.SQLite()
	case DriverPostgres:
		dialect = query.Postgres()
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	e := &Engine{db: db, driver: driver, dsn: dsn, dialect: dialect}
	if err := e.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) Name() string { return e.driver }

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

//go:embed migrations
var migrations embed.FS

func (e *Engine) migrate(ctx context.Context) error {
	if e.driver == DriverPostgres {
		return migratePostgres(e.dsn)
	}
	return e.migrateSQLite(ctx)
}

// migratePostgres runs the versioned migrations over their own connection;
// the DSN must be in URL form.
func migratePostgres(dsn string) error {
	src, err := iofs.New(migrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// migrateSQLite applies the same schema through the engine's single
// connection, since an in-memory database is private to it.
func (e *Engine) migrateSQLite(ctx context.Context) error {
	ddl, err := migrations.ReadFile("migrations/sqlite/0001_records.up.sql")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
	}
	return nil
}

// EnsureIndex creates a partial expression index over one attribute of one
// type.
func (e *Engine) EnsureIndex(ctx context.Context, spec engine.IndexSpec) error {
	if spec.Classification != "" {
		if _, err := e.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS records_classifications ON records (grp, classifications)"); err != nil {
			return fmt.Errorf("failed to create classification index: %w", err)
		}
		return nil
	}
	if !safeIdent.MatchString(spec.TypeName) || !safeIdent.MatchString(spec.Property) {
		return fmt.Errorf("sqlstore: cannot index %s.%s", spec.TypeName, spec.Property)
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%s/%s", spec.Group, spec.TypeName, spec.Property)
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS ix_attr_%x ON records ((%s)) WHERE grp = '%s' AND type_name = '%s'",
		h.Sum64(), e.dialect.PropertyPath(spec.Property), spec.Group, spec.TypeName)
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index on %s.%s: %w", spec.TypeName, spec.Property, err)
	}
	return nil
}

func (e *Engine) Apply(ctx context.Context, muts []engine.Mutation) (engine.Commit, error) {
	if err := engine.CheckBatch(muts); err != nil {
		return engine.Commit{}, err
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return engine.Commit{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq, lastMS int64
	row := tx.QueryRowContext(ctx, "UPDATE clock SET seq = seq + 1 WHERE id = 1 RETURNING seq, last_ms")
	if err := row.Scan(&seq, &lastMS); err != nil {
		return engine.Commit{}, fmt.Errorf("failed to advance clock: %w", err)
	}
	commit := engine.Commit{Seq: seq, RecordedAt: engine.Now(time.UnixMilli(lastMS).UTC())}
	if _, err := tx.ExecContext(ctx, e.dialect.Rebind("UPDATE clock SET last_ms = ? WHERE id = 1"), commit.RecordedAt.UnixMilli()); err != nil {
		return engine.Commit{}, fmt.Errorf("failed to advance clock: %w", err)
	}

	for _, m := range muts {
		var head int64
		q := e.dialect.Rebind("SELECT coalesce(max(seq), 0) FROM records WHERE grp = ? AND guid = ?")
		if err := tx.QueryRowContext(ctx, q, string(m.Group), m.GUID).Scan(&head); err != nil {
			return engine.Commit{}, fmt.Errorf("failed to read head of %s: %w", m.GUID, err)
		}
		if head != m.Head {
			return engine.Commit{}, fmt.Errorf("%w: %s %s at %d, expected %d", engine.ErrConflict, m.Group, m.GUID, head, m.Head)
		}
		if !m.HasPayload() {
			continue
		}
		if err := e.insert(ctx, tx, engine.Stamp(m, commit)); err != nil {
			return engine.Commit{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return engine.Commit{}, fmt.Errorf("failed to commit: %w", err)
	}
	return commit, nil
}

func (e *Engine) insert(ctx context.Context, tx *sql.Tx, rec *engine.Record) error {
	body, err := engine.EncodeBody(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.GUID(), err)
	}
	h := rec.Header()
	var end1, end2 sql.NullString
	isProxy := 0
	if rec.Relationship != nil {
		end1 = sql.NullString{String: rec.Relationship.End1.GUID, Valid: true}
		end2 = sql.NullString{String: rec.Relationship.End2.GUID, Valid: true}
	} else if rec.Entity.IsProxy {
		isProxy = 1
	}
	q := e.dialect.Rebind(`INSERT INTO records
		(seq, grp, guid, version, type_name, status, is_proxy, recorded_at, end1_guid, end2_guid, classifications, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, q,
		rec.Seq, string(rec.Group()), h.GUID, h.Version, h.TypeName, string(h.Status), isProxy,
		rec.RecordedAt.UnixMilli(), end1, end2, engine.ClassificationColumn(rec), string(body))
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", h.GUID, err)
	}
	return nil
}

func (e *Engine) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	var seq int64
	if err := e.db.QueryRowContext(ctx, "SELECT seq FROM clock WHERE id = 1").Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to read clock: %w", err)
	}
	return &snapshot{e: e, seq: seq}, nil
}

type snapshot struct {
	e   *Engine
	seq int64
}

func (s *snapshot) Seq() int64 { return s.seq }

const headClause = `r.seq = (SELECT max(h.seq) FROM records h WHERE h.grp = r.grp AND h.guid = r.guid AND h.seq <= ?)`

func (s *snapshot) query(ctx context.Context, group query.Group, where string, args ...any) ([]*engine.Record, error) {
	q := s.e.dialect.Rebind("SELECT r.seq, r.recorded_at, r.body FROM records r WHERE " + where)
	rows, err := s.e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []*engine.Record
	for rows.Next() {
		var seq, ms int64
		var body []byte
		if err := rows.Scan(&seq, &ms, &body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := engine.DecodeBody(group, seq, time.UnixMilli(ms).UTC(), body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *snapshot) Head(ctx context.Context, group query.Group, guid string) (*engine.Record, error) {
	recs, err := s.query(ctx, group, "r.grp = ? AND r.guid = ? AND r.seq <= ? ORDER BY r.seq DESC LIMIT 1", string(group), guid, s.seq)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (s *snapshot) History(ctx context.Context, group query.Group, guid string) ([]*engine.Record, error) {
	return s.query(ctx, group, "r.grp = ? AND r.guid = ? AND r.seq <= ? ORDER BY r.seq", string(group), guid, s.seq)
}

func (s *snapshot) Scan(ctx context.Context, plan *query.Plan) ([]*engine.Record, error) {
	pd := query.RecordsWhere(plan, s.e.dialect)
	where := strings.Join([]string{"r.grp = ?", headClause, "r.status <> 'DELETED'", "(" + pd.Where + ")"}, " AND ") + " ORDER BY r.guid"
	args := append([]any{string(plan.Group), s.seq}, pd.Args...)
	return s.query(ctx, plan.Group, where, args...)
}

func (s *snapshot) RelationshipsFor(ctx context.Context, guid string) ([]*engine.Record, error) {
	where := "r.grp = ? AND (r.end1_guid = ? OR r.end2_guid = ?) AND " + headClause + " AND r.status <> 'DELETED' ORDER BY r.guid"
	return s.query(ctx, query.Relationships, where, string(query.Relationships), guid, guid, s.seq)
}

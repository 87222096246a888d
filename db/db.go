package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deemkeen/fedgate/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const maxBusyRetries = 5

// SQLiteStore implements Store on top of a single sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const (
	sqlSelectItem = `SELECT rowid, pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, updated_at FROM items WHERE pk = ? AND sk = ?`
	sqlUpsertItem = `INSERT INTO items(pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO UPDATE SET
			gsi1pk = excluded.gsi1pk,
			gsi1sk = excluded.gsi1sk,
			gsi2pk = excluded.gsi2pk,
			gsi2sk = excluded.gsi2sk,
			data = excluded.data,
			updated_at = excluded.updated_at`
	sqlInsertItemIfAbsent = `INSERT INTO items(pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pk, sk) DO NOTHING`
	sqlSelectItemsByPK = `SELECT rowid, pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, updated_at FROM items
		WHERE pk = ?1 AND substr(sk, 1, length(?2)) = ?2
		ORDER BY sk ASC, rowid ASC`
	sqlSelectItemsByGSI1 = `SELECT rowid, pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, updated_at FROM items
		WHERE gsi1pk = ? ORDER BY gsi1sk ASC, rowid ASC`
	sqlSelectItemsByGSI2 = `SELECT rowid, pk, sk, gsi1pk, gsi1sk, gsi2pk, gsi2sk, data, updated_at FROM items
		WHERE gsi2pk = ? ORDER BY gsi2sk ASC, rowid ASC`
	sqlDeleteItem = `DELETE FROM items WHERE pk = ? AND sk = ?`
)

// Open opens (and migrates) the sqlite database at path. The special path
// ":memory:" yields a private in-memory database limited to one connection,
// since every sqlite connection would otherwise see its own empty database.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	memory := path == ":memory:"
	if !memory {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		sqlDB.SetMaxOpenConns(1)
	} else {
		// Configure connection pool for concurrent access
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
			log.Printf("Warning: Failed to read journal mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s", journalMode)
		}
	}

	store := &SQLiteStore{db: sqlDB}
	if err := store.RunMigrations(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database %s initialized", path)
	return store, nil
}

func (db *SQLiteStore) Get(ctx context.Context, pk, sk string) (*Item, error) {
	row := db.db.QueryRowContext(ctx, sqlSelectItem, pk, sk)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s/%s: %w", pk, sk, domain.ErrNotFound)
	}
	if err != nil {
		return nil, transient("get", err)
	}
	return item, nil
}

func (db *SQLiteStore) Put(ctx context.Context, item *Item) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlUpsertItem, itemArgs(item)...)
		return err
	})
}

// PutIfAbsent inserts item only if (PK, SK) is free, returning
// ErrConditionFailed otherwise. The check and the insert are one statement.
func (db *SQLiteStore) PutIfAbsent(ctx context.Context, item *Item) error {
	var inserted int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertItemIfAbsent, itemArgs(item)...)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if inserted == 0 {
		return fmt.Errorf("item %s/%s: %w", item.PK, item.SK, ErrConditionFailed)
	}
	return nil
}

func (db *SQLiteStore) Query(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	return db.queryItems(ctx, sqlSelectItemsByPK, pk, skPrefix)
}

func (db *SQLiteStore) QueryIndex(ctx context.Context, index Index, pk string) ([]Item, error) {
	switch index {
	case GSI1:
		return db.queryItems(ctx, sqlSelectItemsByGSI1, pk)
	case GSI2:
		return db.queryItems(ctx, sqlSelectItemsByGSI2, pk)
	default:
		return nil, fmt.Errorf("unknown index %d", index)
	}
}

func (db *SQLiteStore) Delete(ctx context.Context, pk, sk string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteItem, pk, sk)
		return err
	})
}

func (db *SQLiteStore) Ping(ctx context.Context) error {
	if err := db.db.PingContext(ctx); err != nil {
		return transient("ping", err)
	}
	return nil
}

func (db *SQLiteStore) Close() error {
	return db.db.Close()
}

func (db *SQLiteStore) queryItems(ctx context.Context, query string, args ...interface{}) ([]Item, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("query", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return items, transient("scan", err)
		}
		items = append(items, *item)
	}
	if err = rows.Err(); err != nil {
		return items, transient("query", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*Item, error) {
	var item Item
	var gsi1pk, gsi1sk, gsi2pk, gsi2sk sql.NullString
	if err := row.Scan(&item.Seq, &item.PK, &item.SK, &gsi1pk, &gsi1sk, &gsi2pk, &gsi2sk, &item.Data, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.GSI1PK, item.GSI1SK = gsi1pk.String, gsi1sk.String
	item.GSI2PK, item.GSI2SK = gsi2pk.String, gsi2sk.String
	return &item, nil
}

func itemArgs(item *Item) []interface{} {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	return []interface{}{
		item.PK, item.SK,
		nullable(item.GSI1PK), nullable(item.GSI1SK),
		nullable(item.GSI2PK), nullable(item.GSI2SK),
		item.Data, item.UpdatedAt,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func transient(op string, err error) error {
	return fmt.Errorf("store %s: %w: %w", op, domain.ErrTransient, err)
}

// wrapTransaction runs the given function within a transaction, retrying
// a bounded number of times while sqlite reports the database as busy.
func (db *SQLiteStore) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		var tx *sql.Tx
		tx, err = db.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				continue
			}
			log.Printf("error starting transaction: %s", err)
			return transient("begin", err)
		}
		err = f(tx)
		if err != nil {
			tx.Rollback()
			if isBusy(err) {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return transient("write", err)
		}
		err = tx.Commit()
		if err != nil {
			if isBusy(err) {
				continue
			}
			log.Printf("error committing transaction: %s", err)
			return transient("commit", err)
		}
		return nil
	}
	return transient("write", err)
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

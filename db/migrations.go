package db

import (
	"context"
	"database/sql"
	"log"
)

const (
	sqlCreateItemsTable = `CREATE TABLE IF NOT EXISTS items (
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		gsi1pk TEXT,
		gsi1sk TEXT,
		gsi2pk TEXT,
		gsi2sk TEXT,
		data BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (pk, sk)
	)`

	sqlCreateItemsIndices = `
		CREATE INDEX IF NOT EXISTS idx_items_gsi1 ON items(gsi1pk, gsi1sk);
		CREATE INDEX IF NOT EXISTS idx_items_gsi2 ON items(gsi2pk, gsi2sk);
	`
)

// RunMigrations creates the item table and its secondary indexes.
func (db *SQLiteStore) RunMigrations() error {
	return db.wrapTransaction(context.Background(), func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateItemsTable, "items"); err != nil {
			return err
		}
		if _, err := tx.Exec(sqlCreateItemsIndices); err != nil {
			log.Printf("Warning: Failed to create items indices: %v", err)
		}
		return nil
	})
}

func (db *SQLiteStore) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	log.Printf("Table %s created or already exists", tableName)
	return nil
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
)

const (
	createTableSQL = "CREATE TABLE IF NOT EXISTS kv_partitions (" +
		"partition_name VARCHAR(128) NOT NULL PRIMARY KEY, " +
		"value MEDIUMBLOB NOT NULL, " +
		"update_time DATETIME(3) NOT NULL" +
		") DEFAULT CHARSET=utf8mb4"
	getPartitionSQL    = "SELECT value FROM kv_partitions WHERE partition_name=?"
	insertPartitionSQL = "INSERT INTO kv_partitions (partition_name, value, update_time) VALUES (?,?,?)"
	updatePartitionSQL = "UPDATE kv_partitions SET value=?, update_time=? WHERE partition_name=?"
)

// sqlStore implements `IKVStore` on a MySQL table.
type sqlStore struct {
	*sql.DB
}

func NewSQLStore(db *sql.DB) *sqlStore {
	return &sqlStore{db}
}

// Migrate creates the partition table if it does not exist.
func (s *sqlStore) Migrate(ctx context.Context) error {
	_, err := s.ExecContext(ctx, createTableSQL)
	return err
}

func (s *sqlStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *sqlStore) Get(ctx context.Context, partition string) ([]byte, bool, error) {
	var value []byte
	row := s.QueryRowContext(ctx, getPartitionSQL, partition)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		glog.Errorf("get partition %s scan err: %v", partition, err)
		return nil, false, err
	}
	return value, true, nil
}

func (s *sqlStore) Set(ctx context.Context, partition string, value []byte) error {
	now := time.Now()
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertPartitionSQL, partition, value, now)
		if err == nil {
			return nil
		}
		if !IsDupKeyError(err) {
			glog.Errorf("insert partition %s err: %v", partition, err)
			return err
		}
		// already exists, overwrite.
		if _, err := tx.ExecContext(ctx, updatePartitionSQL, value, now, partition); err != nil {
			glog.Errorf("update partition %s err: %v", partition, err)
			return err
		}
		return nil
	})
}

// IsDupKeyError reports whether err is a MySQL duplicate key error.
func IsDupKeyError(err error) bool {
	if val, ok := err.(*mysql.MySQLError); ok {
		return val.Number == 1062
	}
	return false
}

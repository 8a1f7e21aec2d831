// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DB 数据库接口，*database.DB 与 *sql.Tx 都满足
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxDB 支持事务的数据库
type TxDB interface {
	DB
	Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Scanner 行扫描接口
type Scanner interface {
	Scan(dest ...any) error
}

// jsonColumn 将值序列化为 JSONB 参数
func jsonColumn(v any, fallback string) ([]byte, error) {
	if v == nil {
		return []byte(fallback), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化JSON列失败: %w", err)
	}
	if string(data) == "null" {
		return []byte(fallback), nil
	}
	return data, nil
}

package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore PostgreSQL订单库，作为JSON文件库的云端替代。
// 期望的表结构：
//
//	CREATE TABLE orders (
//	    order_number TEXT PRIMARY KEY,
//	    phone        TEXT NOT NULL DEFAULT '',
//	    data         JSONB NOT NULL
//	);
//
// phone列保存归一化后的号码。
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore 连接数据库并创建存储
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config failed: %w", err)
	}

	// 连接池参数
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	log.Printf("Orders database connected (postgres)")
	return &PGStore{pool: pool}, nil
}

// Close 关闭连接池
func (s *PGStore) Close() {
	s.pool.Close()
}

// Lookup 按订单号精确查询
func (s *PGStore) Lookup(ctx context.Context, orderNumber string) (Order, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM orders WHERE order_number = $1`,
		NormalizeOrderNumber(orderNumber),
	).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order failed: %w", err)
	}

	return decodeOrder(data)
}

// SearchByPhone 按归一化号码查询
func (s *PGStore) SearchByPhone(ctx context.Context, phone string) (Order, error) {
	target := NormalizePhone(phone)
	if target == "" {
		return nil, ErrOrderNotFound
	}

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM orders WHERE phone = $1 LIMIT 1`,
		target,
	).Scan(&data)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by phone failed: %w", err)
	}

	return decodeOrder(data)
}

// decodeOrder 反序列化jsonb订单数据
func decodeOrder(data []byte) (Order, error) {
	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order data failed: %w", err)
	}
	return order, nil
}

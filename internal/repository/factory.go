package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailtriage/pkg/config"
)

// NewRecordRepository 根据配置选择存储后端。
// 默认文件后端；backend=postgres 时需要已初始化的连接池。
func NewRecordRepository(cfg config.StorageConfig, pool *pgxpool.Pool, logger *zap.Logger) (RecordRepository, error) {
	switch cfg.Backend {
	case "", "file":
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileRecordRepository(dir, logger)
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres backend requires a database connection")
		}
		return NewPgRecordRepository(pool, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

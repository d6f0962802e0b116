package memory

import (
	"fmt"

	"github.com/mrg275/proof2pay-agents/internal/config"
)

// NewFromConfig 根据配置选择存储后端。
func NewFromConfig(cfg config.MemoryConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewInMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	case "mysql":
		return NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的记忆存储驱动: %s", cfg.Driver)
	}
}

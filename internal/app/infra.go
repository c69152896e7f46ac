package app

import (
	"context"
	"errors"

	"chat-service/internal/config"
	"chat-service/internal/db"
	"chat-service/internal/logger"
	"chat-service/internal/redis"
	"chat-service/internal/security"
)

type Infra struct {
	DB     *db.DB
	Redis  *redis.Client
	Cipher *security.Cipher
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	cipher, err := security.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(sqlDB.DB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("database ready", nil)

	redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("redis ready", map[string]any{"addr": cfg.RedisAddr})

	return &Infra{
		DB:     sqlDB,
		Redis:  redisClient,
		Cipher: cipher,
	}, nil
}

func (i *Infra) Close() error {
	return errors.Join(i.Redis.Close(), i.DB.Close())
}

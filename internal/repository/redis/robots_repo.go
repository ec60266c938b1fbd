package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/DRSN-tech/price-sync/internal/cfg"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

// RobotsRepo кэширует тела robots.txt по хосту, чтобы перезапуск не перечитывал их с сайтов.
type RobotsRepo struct {
	client r.Cmdable
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewRobotsRepo(client r.Cmdable, cfg *cfg.RedisCfg, logger logger.Logger) *RobotsRepo {
	return &RobotsRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// GetRobots возвращает закэшированное тело robots.txt. ok == false означает промах.
func (rr *RobotsRepo) GetRobots(ctx context.Context, host string) (string, bool, error) {
	body, err := rr.client.Get(ctx, robotsKey(host)).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return "", false, nil // cache miss
		}
		rr.logger.Warnf("Redis GET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return "", false, e.Wrap(whereami.WhereAmI(), err)
	}

	return body, true, nil
}

// SaveRobots сохраняет тело robots.txt с TTL из конфигурации.
// Пустое тело тоже кэшируется: это валидный ответ "разрешено всё".
func (rr *RobotsRepo) SaveRobots(ctx context.Context, host, body string) error {
	if err := rr.client.Set(ctx, robotsKey(host), body, rr.cfg.RobotsTTL).Err(); err != nil {
		rr.logger.Warnf("Redis SET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// robotsKey возвращает Redis-ключ для хоста
func robotsKey(host string) string {
	return fmt.Sprintf("robots:%s", strings.ToLower(host))
}

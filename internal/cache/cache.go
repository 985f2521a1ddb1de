// Package cache holds read-through caches for query results.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// Cache stores JSON-encodable values by key. A miss is not an error.
type Cache interface {
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	Close() error
}

// SliceKey identifies one month slice: "slice:<namespace>:<family>:<project>:<month>".
func SliceKey(namespace, family, projectID string, month int) string {
	return fmt.Sprintf("slice:%s:%s:%s:%d", namespace, family, projectID, month)
}

// ProjectPattern matches every cached slice of a project.
func ProjectPattern(projectID string) string {
	return fmt.Sprintf("slice:*:*:%s:*", projectID)
}

// AllSlices matches every cached slice.
const AllSlices = "slice:*"

// Memory is an in-process cache used when no Redis is configured.
type Memory struct {
	items  *gocache.Cache
	logger logrus.FieldLogger
}

func NewMemory(ttl time.Duration, logger logrus.FieldLogger) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		items:  gocache.New(ttl, 2*ttl),
		logger: logger.WithField("component", "memory_cache"),
	}
}

func (m *Memory) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(v.([]byte), target); err != nil {
		return false, errors.InternalErrorf("decode cached value %s: %v", key, err)
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.InternalErrorf("encode cached value %s: %v", key, err)
	}
	m.items.SetDefault(key, data)
	return nil
}

// DeletePattern removes keys matching a Redis-style glob. Keys never
// contain '/', so path.Match agrees with Redis for them.
func (m *Memory) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var n int64
	for key := range m.items.Items() {
		if ok, _ := path.Match(pattern, key); ok {
			m.items.Delete(key)
			n++
		}
	}
	if n > 0 {
		m.logger.WithFields(logrus.Fields{"pattern": pattern, "deleted": n}).Debug("cache pattern delete")
	}
	return n, nil
}

func (m *Memory) Close() error {
	m.items.Flush()
	return nil
}

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisBroadcaster 基于 Redis Pub/Sub 的广播实现
// 频道名 = 前缀 + 作用域，如 "telemetry:device:dev-001"
// critical 作用域的事件额外写入 Redis Stream（持久化交接给下游报警消费者）
type RedisBroadcaster struct {
	client         *redis.Client
	scopePrefix    string
	criticalStream string
	logger         *zap.Logger
}

// NewRedisBroadcaster 创建Redis广播器
func NewRedisBroadcaster(client *redis.Client, scopePrefix, criticalStream string, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:         client,
		scopePrefix:    scopePrefix,
		criticalStream: criticalStream,
		logger:         logger,
	}
}

// Notify 向指定作用域广播事件
func (b *RedisBroadcaster) Notify(ctx context.Context, scope string, event string, payload interface{}) error {
	envelope := Envelope{
		EventID:   uuid.New().String(),
		Scope:     scope,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	jsonData, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast envelope: %w", err)
	}

	channel := b.scopePrefix + scope
	if err := b.client.Publish(ctx, channel, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}

	// critical 事件额外写入 Stream（Pub/Sub 不保证送达）
	if scope == CriticalScope && b.criticalStream != "" {
		if _, err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: b.criticalStream,
			Values: map[string]interface{}{
				"event_id":  envelope.EventID,
				"event":     event,
				"data":      string(jsonData),
				"timestamp": envelope.Timestamp.Unix(),
			},
		}).Result(); err != nil {
			return fmt.Errorf("failed to append to critical stream: %w", err)
		}
	}

	b.logger.Debug("Broadcast event published",
		zap.String("scope", scope),
		zap.String("event", event),
		zap.String("event_id", envelope.EventID),
	)

	return nil
}

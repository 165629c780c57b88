package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

type Queue struct {
	client    *redis.Client
	queueName string
}

// PaymentMessage is a confirmed payment waiting to be applied.
type PaymentMessage struct {
	ExternalKey string    `json:"external_key"`
	MonthsPaid  int       `json:"months_paid"`
	OccurredAt  time.Time `json:"occurred_at"`
	Attempt     int       `json:"attempt"`
}

// 把到期的延迟消息原子地移回主队列
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, item in ipairs(due) do
	redis.call("ZREM", KEYS[1], item)
	redis.call("LPUSH", KEYS[2], item)
end
return #due
`)

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

func (q *Queue) delayedName() string {
	return q.queueName + ":delayed"
}

// Push 将支付消息加入队列
func (q *Queue) Push(ctx context.Context, msg *PaymentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取消息（阻塞），超时返回 nil, nil
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*PaymentMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg PaymentMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// PushDelayed parks msg until readyAt; PromoteDue moves it back to the queue.
func (q *Queue) PushDelayed(ctx context.Context, msg *PaymentMessage, readyAt time.Time) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.ZAdd(ctx, q.delayedName(), &redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err()
}

// PromoteDue moves up to limit delayed messages that are ready at now.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedName(), q.queueName},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote delayed messages: %w", err)
	}
	return n, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

// DelayedLength 获取延迟队列长度
func (q *Queue) DelayedLength(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedName()).Result()
}

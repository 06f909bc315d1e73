package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

type Producer interface {
	Enqueue(ctx context.Context, task RepoTask) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task RepoTask) error {
	if task.TraceID == "" {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
			task.TraceID = sc.TraceID().String()
		}
	}

	fields, err := taskValues(task)
	if err != nil {
		return fmt.Errorf("encoding %s task: %w", task.TaskType, err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.TaskType, err)
	}

	p.logger.InfoContext(ctx, "enqueued repository task",
		"task_type", task.TaskType,
		"provider", task.Provider,
		"repo_external_id", task.RepoExternalID,
		"integration_id", task.IntegrationID)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

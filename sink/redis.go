package sink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/ldfeed/report"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Prefix namespaces every key and channel. Defaults to "ldfeed".
	Prefix string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// History bounds the number of report ids kept in the history list.
	// Defaults to 100.
	History int64
}

// Event is published on the events channel for every stored report.
type Event struct {
	ID         string `json:"id"`
	Entities   int    `json:"entities"`
	Violations int    `json:"violations"`
	Warnings   int    `json:"warnings"`
	Infos      int    `json:"infos"`
}

// RedisSink stores reports in Redis and announces them on a pub/sub channel.
//
// Keys, for prefix p:
//
//	p:report:<id>          report JSON
//	p:report:<id>:summary  hash of "<type>:<severity>" to violation count
//	p:reports              list of report ids, newest first
//	p:latest               id of the newest report
//	p:events               channel receiving an Event per report
type RedisSink struct {
	client  *redis.Client
	prefix  string
	history int64
}

// NewRedisSink connects to Redis and returns a sink.
func NewRedisSink(opts RedisOptions) (*RedisSink, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "ldfeed"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.History <= 0 {
		opts.History = 100
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{client: client, prefix: opts.Prefix, history: opts.History}, nil
}

func (s *RedisSink) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Publish implements Sink. The report id is its generation time in
// nanoseconds since the epoch.
func (s *RedisSink) Publish(ctx context.Context, r *report.Report) error {
	if r == nil {
		return fmt.Errorf("report cannot be nil")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	id := strconv.FormatInt(r.GeneratedAt.UnixNano(), 10)

	summary := make([]any, 0)
	for typ, agg := range r.Summary {
		for sev, b := range agg {
			summary = append(summary, typ+":"+string(sev), b.Count)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("report", id), data, 0)
	if len(summary) > 0 {
		pipe.HSet(ctx, s.key("report", id, "summary"), summary...)
	}
	pipe.LPush(ctx, s.key("reports"), id)
	pipe.LTrim(ctx, s.key("reports"), 0, s.history-1)
	pipe.Set(ctx, s.key("latest"), id, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store report %s: %w", id, err)
	}

	event, err := json.Marshal(Event{
		ID:         id,
		Entities:   r.Entities(),
		Violations: r.Count(report.SeverityViolation),
		Warnings:   r.Count(report.SeverityWarning),
		Infos:      r.Count(report.SeverityInfo),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.key("events"), event).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", s.key("events"), err)
	}
	return nil
}

// Latest returns the newest stored report, or nil when none was stored.
func (s *RedisSink) Latest(ctx context.Context) (*report.Report, error) {
	id, err := s.client.Get(ctx, s.key("latest")).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest report id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns the stored report with the given id.
func (s *RedisSink) Get(ctx context.Context, id string) (*report.Report, error) {
	data, err := s.client.Get(ctx, s.key("report", id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("report %s not found", id)
		}
		return nil, fmt.Errorf("failed to read report %s: %w", id, err)
	}
	var r report.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", id, err)
	}
	return &r, nil
}

// History returns stored report ids, newest first.
func (s *RedisSink) History(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.key("reports"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read report history: %w", err)
	}
	return ids, nil
}

// Subscribe returns a channel receiving an Event for every report published
// after the subscription is confirmed. The channel closes when ctx is done.
func (s *RedisSink) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := s.client.Subscribe(ctx, s.key("events"))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", s.key("events"), err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Ping checks the Redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

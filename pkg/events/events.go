// Package events publishes run lifecycle events for live observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Type names an event
type Type string

const (
	RunStarted   Type = "run.started"
	StepAppended Type = "step.appended"
	StepIssues   Type = "step.issues"
	RunFinished  Type = "run.finished"
)

// Event is one run lifecycle notification
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Type      Type      `json:"type"`
	StepIndex int       `json:"stepIndex"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Issues    int       `json:"issues,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events. Failures are reported to the caller, who logs
// them; they never affect a run.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop drops every event
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Recorder keeps events in memory, for tests and the CLI run command.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records ev
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Close is a no-op
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t, in order
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// RedisPublisher appends events to one Redis stream per run.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisPublisher connects to url (redis://host:port/db).
func NewRedisPublisher(ctx context.Context, url, prefix string, maxLen int64) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisPublisher{client: client, prefix: prefix, maxLen: maxLen}, nil
}

// Stream returns the stream key of a run
func (p *RedisPublisher) Stream(runID string) string {
	if p.prefix == "" {
		return runID
	}
	return p.prefix + ":" + runID
}

// Publish XADDs ev to the run's stream, trimming it approximately to maxLen.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	args, err := p.xaddArgs(ev)
	if err != nil {
		return err
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

func (p *RedisPublisher) xaddArgs(ev Event) (*redis.XAddArgs, error) {
	if ev.RunID == "" {
		return nil, fmt.Errorf("event run id is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	args := &redis.XAddArgs{
		Stream: p.Stream(ev.RunID),
		Values: map[string]interface{}{
			"type":  string(ev.Type),
			"step":  strconv.Itoa(ev.StepIndex),
			"event": string(raw),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return args, nil
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

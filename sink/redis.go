package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sergev/snap/acquisition"
)

// DefaultListLen is how many records are kept per session list
const DefaultListLen = 1000

// RedisClient is the part of *redis.Client the sink uses
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// Message is what the Redis sink publishes for every call
type Message struct {
	Session string              `json:"session"`
	Seq     uint64              `json:"seq"`
	Kind    string              `json:"kind"` // header, logic, analog or end
	Header  *acquisition.Header `json:"header,omitempty"`
	Logic   []byte              `json:"logic,omitempty"`
	Analog  []float32           `json:"analog,omitempty"`
	Channel string              `json:"channel,omitempty"`
}

// Redis publishes records on a pub/sub channel and keeps the most recent
// ones in a capped list per session
type Redis struct {
	client  RedisClient
	channel string
	listLen int64
	log     *logrus.Logger

	session string
	seq     uint64
}

// DialRedis connects to a Redis server and checks it with PING
func DialRedis(addr, password string, db int, channel string, listLen int, log *logrus.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Infof("Connected to redis at %s", addr)

	return NewRedis(client, channel, listLen, log), nil
}

// NewRedis wraps an existing client
func NewRedis(client RedisClient, channel string, listLen int, log *logrus.Logger) *Redis {
	if listLen <= 0 {
		listLen = DefaultListLen
	}
	return &Redis{
		client:  client,
		channel: channel,
		listLen: int64(listLen),
		log:     log,
	}
}

// ListKey returns the list holding the records of a session
func (r *Redis) ListKey() string {
	return fmt.Sprintf("snap:%s:records", r.session)
}

func (r *Redis) publish(msg *Message) error {
	ctx := context.Background()
	msg.Session = r.session
	msg.Seq = r.seq
	r.seq++

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", msg.Kind, err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s record: %w", msg.Kind, err)
	}

	key := r.ListKey()
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		r.log.Warnf("Failed to save record to %s: %v", key, err)
		return nil
	}
	if err := r.client.LTrim(ctx, key, 0, r.listLen-1).Err(); err != nil {
		r.log.Warnf("Failed to trim %s: %v", key, err)
	}
	return nil
}

func (r *Redis) BeginStream(h acquisition.Header) error {
	r.session = h.Started.UTC().Format("20060102T150405.000000000Z")
	r.seq = 0
	return r.publish(&Message{Kind: "header", Header: &h})
}

func (r *Redis) DeliverLogic(data []byte, unitSize int) error {
	return r.publish(&Message{Kind: "logic", Logic: data})
}

func (r *Redis) DeliverAnalog(samples []float32, channel string) error {
	return r.publish(&Message{Kind: "analog", Analog: samples, Channel: channel})
}

func (r *Redis) EndOfStream() error {
	return r.publish(&Message{Kind: "end"})
}

// Close closes the client
func (r *Redis) Close() error {
	return r.client.Close()
}

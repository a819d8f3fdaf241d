package limiter

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Limiter bounds in-process concurrency and keeps Redis-backed cooldowns for
// keys that keep failing.
type Limiter struct {
	slots       chan struct{}
	rdb         *redis.Client
	prefix      string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type Options struct {
	MaxInflight int
	// Redis enables cooldowns; nil disables them.
	Redis       *redis.Client
	KeyPrefix   string
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) *Limiter {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "cooldown"
	}
	return &Limiter{
		slots:       make(chan struct{}, opts.MaxInflight),
		rdb:         opts.Redis,
		prefix:      opts.KeyPrefix,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire reserves a slot without waiting.
func (l *Limiter) TryAcquire() (func(), bool) {
	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, true
	default:
		return func() {}, false
	}
}

// InFlight reports the number of held slots.
func (l *Limiter) InFlight() int { return len(l.slots) }

func (l *Limiter) Capacity() int { return cap(l.slots) }

func (l *Limiter) key(k string) string { return fmt.Sprintf("%s:%s", l.prefix, k) }

// IsOpen reports whether k is cooling down.
func (l *Limiter) IsOpen(ctx context.Context, k string) bool {
	if l.rdb == nil {
		return false
	}
	ts, err := l.rdb.Get(ctx, l.key(k)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < ts
}

// Open starts or extends the cooldown for k. The backoff doubles per
// consecutive failure up to the maximum.
func (l *Limiter) Open(ctx context.Context, k string) time.Duration {
	if l.rdb == nil {
		return 0
	}
	key := l.key(k)
	attempts, _ := l.rdb.Incr(ctx, key+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	d := l.baseBackoff
	for i := int64(1); i < attempts && d < l.maxBackoff; i++ {
		d *= 2
	}
	if d > l.maxBackoff {
		d = l.maxBackoff
	}
	_ = l.rdb.Set(ctx, key, time.Now().Add(d).Unix(), d).Err()
	_ = l.rdb.Expire(ctx, key+":attempts", l.maxBackoff*2).Err()
	return d
}

// Reset clears the cooldown for k.
func (l *Limiter) Reset(ctx context.Context, k string) {
	if l.rdb == nil {
		return
	}
	key := l.key(k)
	_ = l.rdb.Del(ctx, key, key+":attempts").Err()
}

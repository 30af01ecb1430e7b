package scheduler

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmitLimiter throttles job submissions per remote IP: a Redis-backed
// per-minute counter when Redis is configured (so a fleet of Master
// replicas shares one quota), an in-memory map otherwise. A nil
// SubmitLimiter or a non-positive rpm always allows.
type SubmitLimiter struct {
	rpm   int
	redis *redis.Client

	mu       sync.Mutex
	counts   map[string]int
	windowAt time.Time
}

// NewSubmitLimiter builds a limiter capping each IP to rpm submissions per
// fixed one-minute window (not a rolling one). redisClient may be nil to
// force the in-memory path.
func NewSubmitLimiter(rpm int, redisClient *redis.Client) *SubmitLimiter {
	return &SubmitLimiter{rpm: rpm, redis: redisClient, counts: map[string]int{}}
}

func minuteKey(ip string) string {
	return fmt.Sprintf("submit:%s:%d", ip, time.Now().Unix()/60)
}

// Allow reports whether ip may submit another job this minute.
func (l *SubmitLimiter) Allow(ip string) bool {
	if l == nil || l.rpm <= 0 {
		return true
	}
	if l.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		key := minuteKey(ip)
		n, err := l.redis.Incr(ctx, key).Result()
		if err == nil {
			if n == 1 {
				_ = l.redis.Expire(ctx, key, 65*time.Second).Err()
			}
			return int(n) <= l.rpm
		}
		// Redis hiccup: degrade to the in-memory counter rather than
		// refusing every submission until it recovers.
	}
	return l.allowInMem(ip)
}

func (l *SubmitLimiter) allowInMem(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.windowAt) > 60*time.Second {
		l.counts = map[string]int{}
		l.windowAt = now
	}
	l.counts[ip]++
	return l.counts[ip] <= l.rpm
}

// RemoteIP extracts the bare host from a net.Conn's remote address, used to
// key the submit limiter per client rather than per connection.
func RemoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

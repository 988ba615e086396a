// Package redisseq implements booking.SequenceStore on Redis INCR.
//
// INCR is atomic on the server and creates a missing key at 0 before
// incrementing, so the first value for a name is 1 and concurrent callers
// across processes never see the same value.
package redisseq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/warp/reservation-engine/booking"
)

// DefaultPrefix namespaces counter keys.
const DefaultPrefix = "seq"

type Sequences struct {
	Client redis.Cmdable
	Prefix string
}

var _ booking.SequenceStore = (*Sequences)(nil)

func New(client redis.Cmdable) *Sequences {
	return &Sequences{Client: client, Prefix: DefaultPrefix}
}

// Options mirrors the connection settings read from the environment.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Dial builds a client and pings it. The caller owns the returned client.
func Dial(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

func (s *Sequences) Key(name string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":" + name
}

func (s *Sequences) NextSequence(ctx context.Context, name string) (int64, error) {
	v, err := s.Client.Incr(ctx, s.Key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", s.Key(name), err)
	}
	return v, nil
}

// seedScript raises the counter to ARGV[1] unless it is already higher, and
// returns the resulting value.
var seedScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
	redis.call('SET', KEYS[1], ARGV[1])
	return floor
end
return cur
`)

// SeedAtLeast makes the next value for name greater than floor. It never
// lowers the counter, so it is safe to run on every startup and from
// several processes at once.
func (s *Sequences) SeedAtLeast(ctx context.Context, name string, floor int64) (int64, error) {
	v, err := seedScript.Run(ctx, s.Client, []string{s.Key(name)}, floor).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis seed %s: %w", s.Key(name), err)
	}
	return v, nil
}

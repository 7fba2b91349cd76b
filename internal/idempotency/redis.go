package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// claims last at least this long so a crashed request frees its key
	DefaultLockTimeout = 10 * time.Second

	outcomePrefix = "idempotency:"
	lockPrefix    = "lock:"
)

// deletes the lock only while it still holds the claim's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ Guard = (*Redis)(nil)

// Redis shares claims and outcomes between processes. A claim is a SETNX lock
// holding a random token and an outcome is a JSON value that expires after TTL.
type Redis struct {
	client      redis.Cmdable
	TTL         time.Duration
	LockTimeout time.Duration
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{
		client:      client,
		TTL:         DefaultTTL,
		LockTimeout: DefaultLockTimeout,
	}
}

func (r *Redis) Begin(ctx context.Context, key string, hold time.Duration) (Claim, *Outcome, error) {
	if o, err := r.outcome(ctx, key); err != nil || o != nil {
		return Claim{}, o, err
	}

	if hold < r.LockTimeout {
		hold = r.LockTimeout
	}
	c := newClaim(key)
	acquired, err := r.client.SetNX(ctx, lockPrefix+key, c.Token, hold).Result()
	if err != nil {
		return Claim{}, nil, fmt.Errorf("claiming idempotency key: %w", err)
	}
	if !acquired {
		return Claim{}, nil, ErrDuplicateInFlight
	}

	// the holder may have finished between the lookup and the claim
	o, err := r.outcome(ctx, key)
	if err != nil || o != nil {
		if _, abortErr := r.release(ctx, c); err == nil {
			err = abortErr
		}
		return Claim{}, o, err
	}
	return c, nil, nil
}

func (r *Redis) outcome(ctx context.Context, key string) (*Outcome, error) {
	cached, err := r.client.Get(ctx, outcomePrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}

	var o Outcome
	if err = json.Unmarshal(cached, &o); err != nil {
		return nil, fmt.Errorf("decoding outcome of %q: %w", key, err)
	}
	return &o, nil
}

func (r *Redis) Finish(ctx context.Context, c Claim, o Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err = r.client.SetNX(ctx, outcomePrefix+c.Key, b, r.TTL).Err(); err != nil {
		return fmt.Errorf("storing outcome of %q: %w", c.Key, err)
	}

	released, err := r.release(ctx, c)
	if err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("%w: %q", ErrClaimLost, c.Key)
	}
	return nil
}

func (r *Redis) Abort(ctx context.Context, c Claim) error {
	_, err := r.release(ctx, c)
	return err
}

func (r *Redis) release(ctx context.Context, c Claim) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{lockPrefix + c.Key}, c.Token).Int()
	if err != nil {
		return false, fmt.Errorf("releasing idempotency key: %w", err)
	}
	return n == 1, nil
}

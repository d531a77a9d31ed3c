package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/poanetwork/tokenbridge-relayer/utils"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 100 * time.Millisecond
)

var ErrLockLost = errors.New("nonce lock expired before release")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ChainNonceSource reports the next nonce the chain expects from the account, including pool transactions.
type ChainNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type Manager struct {
	redis     redis.UniversalClient
	lockTTL   time.Duration
	lockRetry time.Duration

	mu    sync.Mutex
	lanes map[string]*Lane
}

// NewManager creates lanes coordinated in-process only, or across processes when rdb is not nil.
func NewManager(rdb redis.UniversalClient) *Manager {
	return &Manager{
		redis:     rdb,
		lockTTL:   defaultLockTTL,
		lockRetry: defaultLockRetry,
		lanes:     make(map[string]*Lane),
	}
}

// Lane returns the single lane of the given (chain, account) pair.
func (m *Manager) Lane(chainID string, account common.Address, source ChainNonceSource) *Lane {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := LaneKey(chainID, account)
	if lane, ok := m.lanes[key]; ok {
		return lane
	}
	lane := &Lane{
		manager: m,
		key:     key,
		account: account,
		source:  source,
	}
	m.lanes[key] = lane
	return lane
}

func LaneKey(chainID string, account common.Address) string {
	return fmt.Sprintf("%s:%s", chainID, account.Hex())
}

// Lane serializes nonce assignment for one account on one chain.
type Lane struct {
	manager *Manager
	key     string
	account common.Address
	source  ChainNonceSource

	mu   sync.Mutex
	next *uint64
}

func (l *Lane) Key() string {
	return l.key
}

func (l *Lane) nonceKey() string {
	return "relayer:nonce:" + l.key
}

func (l *Lane) lockKey() string {
	return "relayer:nonce:lock:" + l.key
}

// Do runs f with the next nonce while holding the lane exclusively.
// The lane moves past the nonce only when f reports it as consumed,
// i.e. a transaction with this nonce reached the node.
func (l *Lane) Do(ctx context.Context, f func(ctx context.Context, nonce uint64) (bool, error)) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.manager.redis != nil {
		token, lockErr := l.lock(ctx)
		if lockErr != nil {
			return lockErr
		}
		defer func() {
			if unlockErr := l.unlock(context.WithoutCancel(ctx), token); unlockErr != nil && err == nil {
				err = unlockErr
			}
		}()
	}

	nonce, err := l.current(ctx)
	if err != nil {
		return err
	}
	consumed, err := f(ctx, nonce)
	if consumed {
		if storeErr := l.store(context.WithoutCancel(ctx), nonce+1); storeErr != nil && err == nil {
			err = storeErr
		}
	}
	return err
}

func (l *Lane) current(ctx context.Context) (uint64, error) {
	chainNonce, err := l.source.PendingNonceAt(ctx, l.account)
	if err != nil {
		return 0, fmt.Errorf("can't get pending nonce: %w", err)
	}
	stored, ok, err := l.stored(ctx)
	if err != nil {
		return 0, err
	}
	if ok && stored > chainNonce {
		return stored, nil
	}
	return chainNonce, nil
}

func (l *Lane) stored(ctx context.Context) (uint64, bool, error) {
	if l.manager.redis == nil {
		if l.next == nil {
			return 0, false, nil
		}
		return *l.next, true, nil
	}
	s, err := l.manager.redis.Get(ctx, l.nonceKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("can't get stored nonce: %w", err)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("can't parse stored nonce: %w", err)
	}
	return n, true, nil
}

func (l *Lane) store(ctx context.Context, next uint64) error {
	if l.manager.redis == nil {
		l.next = &next
		return nil
	}
	if err := l.manager.redis.Set(ctx, l.nonceKey(), next, 0).Err(); err != nil {
		return fmt.Errorf("can't store nonce: %w", err)
	}
	return nil
}

// Reset forgets the locally tracked nonce, so the next one is taken from the chain.
func (l *Lane) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next = nil
	if l.manager.redis == nil {
		return nil
	}
	if err := l.manager.redis.Del(ctx, l.nonceKey()).Err(); err != nil {
		return fmt.Errorf("can't reset nonce: %w", err)
	}
	return nil
}

func (l *Lane) lock(ctx context.Context) (string, error) {
	token := uuid.NewString()
	for {
		ok, err := l.manager.redis.SetNX(ctx, l.lockKey(), token, l.manager.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("can't acquire nonce lock: %w", err)
		}
		if ok {
			return token, nil
		}
		utils.ContextSleep(ctx, l.manager.lockRetry)
		if ctx.Err() != nil {
			return "", fmt.Errorf("can't acquire nonce lock: %w", ctx.Err())
		}
	}
}

func (l *Lane) unlock(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.manager.redis, []string{l.lockKey()}, token).Int()
	if err != nil {
		return fmt.Errorf("can't release nonce lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// internal/epochstore/redis.go

package epochstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/errors"
)

const (
	// Hash of pending transactions, keyed by transaction key
	pendingKeyPrefix = "pending_consensus:"

	// Counter of pending user certificates
	pendingCertCountKeyPrefix = "pending_cert_count:"

	// Persisted reconfiguration state
	reconfigKeyPrefix = "reconfig:"
)

// insertScript atomically records a pending transaction and bumps the
// certificate counter when the transaction is a user certificate. A key
// that already exists leaves the counter untouched.
var insertScript = redis.NewScript(`
	local added = redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2])
	if added == 1 and ARGV[3] == "1" then
		redis.call("INCR", KEYS[2])
	end
	return added
`)

// removeScript atomically removes a pending transaction and decrements the
// certificate counter when the removed transaction was a user certificate.
var removeScript = redis.NewScript(`
	local removed = redis.call("HDEL", KEYS[1], ARGV[1])
	if removed == 1 and ARGV[2] == "1" then
		redis.call("DECR", KEYS[2])
	end
	return removed
`)

// RedisStore is a Redis-backed Store. Pending transactions survive process
// restarts; the reconfiguration state is persisted and mirrored behind a
// process-local lock, and processed notifications are in-process only.
type RedisStore struct {
	client    *redis.Client
	ctx       context.Context
	cancel    context.CancelFunc
	epoch     uint64
	committee *committee.Committee

	pendingKey   string
	certCountKey string
	reconfigKey  string

	reconfigMu sync.RWMutex

	notifier *notifier
}

// NewRedisStore connects to Redis and initializes the store for the given
// epoch. A reconfiguration state persisted by a previous run of the same
// epoch is kept; otherwise the epoch starts in AcceptingCerts.
func NewRedisStore(redisAddr, password string, db int, epoch uint64, c *committee.Committee) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithCancel(context.Background())

	if _, err := client.Ping(ctx).Result(); err != nil {
		cancel()
		return nil, errors.NewStorageOpError(
			errors.OpConnect,
			errors.StorageErrConnection,
			fmt.Sprintf("failed to connect to Redis at %s", redisAddr),
			err,
		)
	}

	s := &RedisStore{
		client:       client,
		ctx:          ctx,
		cancel:       cancel,
		epoch:        epoch,
		committee:    c,
		pendingKey:   fmt.Sprintf("%s%d", pendingKeyPrefix, epoch),
		certCountKey: fmt.Sprintf("%s%d", pendingCertCountKeyPrefix, epoch),
		reconfigKey:  fmt.Sprintf("%s%d", reconfigKeyPrefix, epoch),
		notifier:     newNotifier(),
	}

	if err := s.client.SetNX(ctx, s.reconfigKey, string(AcceptingCerts), 0).Err(); err != nil {
		cancel()
		return nil, errors.NewStorageOpError(
			errors.OpReconfigWrite,
			errors.StorageErrWrite,
			"failed to initialize reconfiguration state",
			err,
		)
	}

	return s, nil
}

// Epoch returns the epoch this store belongs to.
func (s *RedisStore) Epoch() uint64 {
	return s.epoch
}

// Committee returns the stake-weighted committee for this epoch.
func (s *RedisStore) Committee() *committee.Committee {
	return s.committee
}

// AliveContext returns the context bounding delivery work for this epoch.
func (s *RedisStore) AliveContext() context.Context {
	return s.ctx
}

// TerminateEpoch cancels the alive context.
func (s *RedisStore) TerminateEpoch() {
	s.cancel()
}

// InsertPending durably records a transaction as pending.
func (s *RedisStore) InsertPending(tx *transaction.ConsensusTransaction, guard *ReconfigGuard) error {
	if err := checkInsertGuard(tx, guard); err != nil {
		return err
	}

	data, err := tx.ToJSON()
	if err != nil {
		return errors.NewStorageOpError(
			errors.OpSerialize,
			errors.StorageErrSerialization,
			"failed to serialize pending transaction",
			err,
		)
	}

	isCert := "0"
	if tx.IsUserCertificate() {
		isCert = "1"
	}

	err = insertScript.Run(
		context.Background(),
		s.client,
		[]string{s.pendingKey, s.certCountKey},
		string(tx.Key()), data, isCert,
	).Err()
	if err != nil {
		return errors.NewStorageOpError(
			errors.OpInsertPending,
			errors.StorageErrWrite,
			"failed to persist pending transaction",
			err,
		)
	}
	return nil
}

// RemovePending removes a transaction from the pending set.
func (s *RedisStore) RemovePending(key transaction.Key) error {
	isCert := "0"
	if transaction.IsCertificateKey(key) {
		isCert = "1"
	}

	err := removeScript.Run(
		context.Background(),
		s.client,
		[]string{s.pendingKey, s.certCountKey},
		string(key), isCert,
	).Err()
	if err != nil {
		return errors.NewStorageOpError(
			errors.OpRemovePending,
			errors.StorageErrDelete,
			"failed to remove pending transaction",
			err,
		)
	}
	return nil
}

// PendingCertificateCount returns the number of pending user certificates.
func (s *RedisStore) PendingCertificateCount() (int, error) {
	count, err := s.client.Get(context.Background(), s.certCountKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewStorageOpError(
			errors.OpPendingCount,
			errors.StorageErrRead,
			"failed to read pending certificate count",
			err,
		)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// AllPending returns every pending transaction.
func (s *RedisStore) AllPending() ([]*transaction.ConsensusTransaction, error) {
	entries, err := s.client.HGetAll(context.Background(), s.pendingKey).Result()
	if err != nil {
		return nil, errors.NewStorageOpError(
			errors.OpAllPending,
			errors.StorageErrRead,
			"failed to read pending transactions",
			err,
		)
	}

	out := make([]*transaction.ConsensusTransaction, 0, len(entries))
	for key, data := range entries {
		tx, err := transaction.FromJSON([]byte(data))
		if err != nil {
			return nil, errors.NewStorageOpError(
				errors.OpDeserialize,
				errors.StorageErrDeserialization,
				fmt.Sprintf("failed to deserialize pending transaction %s", key),
				err,
			)
		}
		out = append(out, tx)
	}
	return out, nil
}

// ProcessedNotify returns a channel resolved when the keyed transaction is
// processed by consensus. Notifications are in-process; after a restart the
// recovery path resubmits pending transactions and waits for fresh acks.
func (s *RedisStore) ProcessedNotify(key transaction.Key) <-chan error {
	return s.notifier.wait(key)
}

// MarkProcessed records that consensus processed the keyed transaction.
func (s *RedisStore) MarkProcessed(key transaction.Key) {
	s.notifier.notify(key)
}

// ReconfigStateRead acquires a read guard on the reconfiguration state.
// Storage errors here invalidate the drain decision, so they are fatal.
func (s *RedisStore) ReconfigStateRead() *ReconfigGuard {
	s.reconfigMu.RLock()
	return &ReconfigGuard{
		state:   s.readReconfigState(),
		release: s.reconfigMu.RUnlock,
	}
}

// ReconfigStateWrite acquires a write guard on the reconfiguration state.
func (s *RedisStore) ReconfigStateWrite() *ReconfigWriteGuard {
	s.reconfigMu.Lock()
	return &ReconfigWriteGuard{
		state:   s.readReconfigState(),
		release: s.reconfigMu.Unlock,
		transition: func(next ReconfigState) error {
			err := s.client.Set(context.Background(), s.reconfigKey, string(next), 0).Err()
			if err != nil {
				return errors.NewStorageOpError(
					errors.OpReconfigWrite,
					errors.StorageErrWrite,
					"failed to persist reconfiguration state",
					err,
				)
			}
			return nil
		},
	}
}

func (s *RedisStore) readReconfigState() ReconfigState {
	state, err := s.client.Get(context.Background(), s.reconfigKey).Result()
	if err == redis.Nil {
		return AcceptingCerts
	}
	if err != nil {
		panic(fmt.Sprintf("failed to read reconfiguration state: %v", err))
	}
	return ReconfigState(state)
}

// Ping checks the Redis connection for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)

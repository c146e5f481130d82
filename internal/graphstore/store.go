package graphstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/platform/neo4jdb"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// Store owns all graph persistence: document/chunk/entity CRUD, subgraph
// merges, index maintenance, dedup and orphan cleanup. Transient store
// failures (deadlocks, timeouts) are retried here with bounded backoff and
// never surfaced; persistent failures surface as types.StoreWriteError.
type Store struct {
	client    *neo4jdb.Client
	log       *logger.Logger
	txTimeout time.Duration

	maxRetries int
	baseDelay  time.Duration

	// Index rebuilds are mutually exclusive with each other, but not with
	// document merges.
	indexMu sync.Mutex

	embeddingDimension int
}

type Options struct {
	TxTimeout          time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	EmbeddingDimension int
}

func New(client *neo4jdb.Client, log *logger.Logger, opts Options) (*Store, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graphstore: neo4j client required")
	}
	if log == nil {
		return nil, fmt.Errorf("graphstore: logger required")
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	return &Store{
		client:             client,
		log:                log.With("repo", "GraphStore"),
		txTimeout:          opts.TxTimeout,
		maxRetries:         opts.MaxRetries,
		baseDelay:          opts.RetryBaseDelay,
		embeddingDimension: opts.EmbeddingDimension,
	}, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.client.Database,
	})
}

// write runs work in a single write transaction, retrying transient
// failures with exponential backoff before surfacing a StoreWriteError.
func (s *Store) write(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var lastErr error
	delay := s.baseDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.log.Warn("retrying graph write", "op", op, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &types.StoreWriteError{Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}
		res, err := session.ExecuteWrite(ctx, work, neo4j.WithTxTimeout(s.txTimeout))
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, &types.StoreWriteError{Op: op, Err: lastErr}
}

func (s *Store) read(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	res, err := session.ExecuteRead(ctx, work, neo4j.WithTxTimeout(s.txTimeout))
	if err != nil {
		return nil, fmt.Errorf("graphstore: %s: %w", op, err)
	}
	return res, nil
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "timeout")
}

// run executes one statement inside a managed transaction and drains the
// result, the pattern every write here follows.
func run(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

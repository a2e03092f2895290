package pg

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sodaframework/soda/core/repository"
)

// Manager is a repository.TxManager backed by pgx transactions. Run opens a
// transaction, executes the unit of work with the transaction on the context,
// and fires after-commit hooks only once COMMIT succeeds.
type Manager struct {
	pool *pgxpool.Pool
}

// NewManager creates a transaction manager on the given pool.
func NewManager(pool *pgxpool.Pool) *Manager {
	return &Manager{pool: pool}
}

type hooksCtx struct{}

type txHooks struct {
	mu    sync.Mutex
	hooks []func(context.Context)
}

func (h *txHooks) add(fn func(context.Context)) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

func (h *txHooks) fire(ctx context.Context) {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}

// Run executes fn inside a database transaction. The context passed to fn
// carries the pgx.Tx (see TxFromContext) and the after-commit hook scope. A
// non-nil error from fn rolls back and discards all registered hooks; hooks
// fire after a successful commit with a context that no longer carries the
// transaction.
func (m *Manager) Run(ctx context.Context, fn func(context.Context) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // no-op after commit

	hooks := &txHooks{}
	tctx := context.WithValue(WithTx(ctx, tx), hooksCtx{}, hooks)

	if err := fn(tctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	hooks.fire(ctx)
	return nil
}

// InTx implements repository.TxManager.
func (m *Manager) InTx(ctx context.Context) bool {
	_, ok := ctx.Value(hooksCtx{}).(*txHooks)
	return ok
}

// AfterCommit implements repository.TxManager.
func (m *Manager) AfterCommit(ctx context.Context, fn func(context.Context)) error {
	hooks, ok := ctx.Value(hooksCtx{}).(*txHooks)
	if !ok {
		return repository.ErrNoTransaction
	}
	hooks.add(fn)
	return nil
}

var _ repository.TxManager = (*Manager)(nil)

package repository

import (
	"context"
	"sync"
)

// TxManager abstracts the transaction boundary the event-publishing decorator
// couples to. Implementations register after-commit hooks that fire only when
// the surrounding transaction commits; a rollback discards them, which is what
// prevents ghost events.
type TxManager interface {
	// InTx reports whether the context carries an active transaction scope.
	InTx(ctx context.Context) bool

	// AfterCommit registers fn to run after the current transaction commits.
	// Returns ErrNoTransaction when no scope is active.
	AfterCommit(ctx context.Context, fn func(context.Context)) error
}

type scopeCtx struct{}

// txScope accumulates after-commit hooks for one transactional unit of work.
type txScope struct {
	mu    sync.Mutex
	hooks []func(context.Context)
}

func (s *txScope) add(fn func(context.Context)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *txScope) fire(ctx context.Context) {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
}

// Scope is an in-memory TxManager for applications whose unit of work is not
// backed by a database transaction, and for tests. Run executes fn inside a
// scope; hooks registered during fn fire only when fn returns nil.
//
// Example:
//
//	scope := repository.NewScope()
//	err := scope.Run(ctx, func(ctx context.Context) error {
//	    return repo.Save(ctx, order) // events publish only if this commits
//	})
type Scope struct{}

// NewScope creates an in-memory transaction scope manager.
func NewScope() *Scope { return &Scope{} }

// Run executes fn within a transaction scope. When fn returns nil the
// registered after-commit hooks fire with a context that no longer carries
// the scope; when fn fails the hooks are discarded.
func (s *Scope) Run(ctx context.Context, fn func(context.Context) error) error {
	scope := &txScope{}
	tctx := context.WithValue(ctx, scopeCtx{}, scope)

	if err := fn(tctx); err != nil {
		return err
	}

	scope.fire(ctx)
	return nil
}

// InTx implements TxManager.
func (s *Scope) InTx(ctx context.Context) bool {
	_, ok := ctx.Value(scopeCtx{}).(*txScope)
	return ok
}

// AfterCommit implements TxManager.
func (s *Scope) AfterCommit(ctx context.Context, fn func(context.Context)) error {
	scope, ok := ctx.Value(scopeCtx{}).(*txScope)
	if !ok {
		return ErrNoTransaction
	}
	scope.add(fn)
	return nil
}

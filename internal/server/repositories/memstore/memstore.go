// Package memstore is an in-memory repomanager.Store.
//
// Transactions are fully serialised by one mutex, which gives every row the
// exclusive-lock semantics of SELECT ... FOR UPDATE. A transaction that
// returns an error is rolled back by restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/syncstate"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/tips"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/users"
)

var _ repomanager.Store = (*Store)(nil)

type state struct {
	tips       map[string]models.Tip
	byPayment  map[string]string
	users      map[string]models.User
	posts      map[string]string
	checkpoint time.Time
}

func (s *state) clone() *state {
	return &state{
		tips:       maps.Clone(s.tips),
		byPayment:  maps.Clone(s.byPayment),
		users:      maps.Clone(s.users),
		posts:      maps.Clone(s.posts),
		checkpoint: s.checkpoint,
	}
}

// Store keeps tips, users, posts and the checkpoint in maps.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{
		st: &state{
			tips:       map[string]models.Tip{},
			byPayment:  map[string]string{},
			users:      map[string]models.User{},
			posts:      map[string]string{},
			checkpoint: time.Unix(0, 0).UTC(),
		},
		now: time.Now,
	}
}

// AddUser registers a user. Registration is owned by another service; this
// exists for tests and local runs.
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

// AddPost registers a post written by authorID.
func (s *Store) AddPost(p models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.posts[p.ID] = p.AuthorID
}

func (s *Store) Repos() repomanager.Repos {
	return repos{s: s}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r repomanager.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx, repos{s: s, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

// repos runs each call under the store mutex unless it is already held by
// an enclosing Atomic.
type repos struct {
	s    *Store
	inTx bool
}

func (r repos) Tips() tips.Repository           { return tipRepo(r) }
func (r repos) Users() users.Repository         { return userRepo(r) }
func (r repos) SyncState() syncstate.Repository { return syncRepo(r) }

func (r repos) do(fn func(st *state) error) error {
	if !r.inTx {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	return fn(r.s.st)
}

type tipRepo repos

func (r tipRepo) do(fn func(st *state) error) error { return repos(r).do(fn) }

func (r tipRepo) Create(ctx context.Context, tip *models.Tip) (*models.Tip, error) {
	err := r.do(func(st *state) error {
		if _, ok := st.posts[tip.PostID]; !ok {
			return common.ErrorNotFound
		}
		if _, ok := st.byPayment[tip.PaymentID]; ok {
			return common.ErrStateConflict
		}
		tip.CreatedAt = r.s.now()
		st.tips[tip.ID] = *tip
		st.byPayment[tip.PaymentID] = tip.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tip, nil
}

func (r tipRepo) get(id string) (*models.Tip, error) {
	var out *models.Tip
	err := r.do(func(st *state) error {
		t, ok := st.tips[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r tipRepo) getByPayment(paymentID string) (*models.Tip, error) {
	var out *models.Tip
	err := r.do(func(st *state) error {
		id, ok := st.byPayment[paymentID]
		if !ok {
			return common.ErrorNotFound
		}
		t := st.tips[id]
		out = &t
		return nil
	})
	return out, err
}

func (r tipRepo) Get(ctx context.Context, id string) (*models.Tip, error) { return r.get(id) }

func (r tipRepo) GetByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error) {
	return r.getByPayment(paymentID)
}

func (r tipRepo) LockByID(ctx context.Context, id string) (*models.Tip, error) { return r.get(id) }

func (r tipRepo) LockByPaymentID(ctx context.Context, paymentID string) (*models.Tip, error) {
	return r.getByPayment(paymentID)
}

func (r tipRepo) MarkReceived(ctx context.Context, id string) error {
	return r.do(func(st *state) error {
		t, ok := st.tips[id]
		if !ok || t.Received {
			return common.ErrStateConflict
		}
		t.Received = true
		st.tips[id] = t
		return nil
	})
}

func (r tipRepo) MarkForwarded(ctx context.Context, id string, forwardPaymentID string) error {
	return r.do(func(st *state) error {
		t, ok := st.tips[id]
		if !ok || !t.Received || t.Forwarded {
			return common.ErrStateConflict
		}
		t.Forwarded = true
		t.ForwardPaymentID = forwardPaymentID
		st.tips[id] = t
		return nil
	})
}

func (r tipRepo) RecipientID(ctx context.Context, tipID string) (string, error) {
	var author string
	err := r.do(func(st *state) error {
		t, ok := st.tips[tipID]
		if !ok {
			return common.ErrorNotFound
		}
		a, ok := st.posts[t.PostID]
		if !ok {
			return common.ErrorNotFound
		}
		author = a
		return nil
	})
	return author, err
}

func (r tipRepo) ListPendingForward(ctx context.Context, recipientID string) ([]*models.Tip, error) {
	var out []*models.Tip
	err := r.do(func(st *state) error {
		for _, t := range st.tips {
			if st.posts[t.PostID] == recipientID && t.Received && !t.Forwarded {
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

type userRepo repos

func (r userRepo) Get(ctx context.Context, id string) (*models.User, error) {
	var out *models.User
	err := repos(r).do(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r userRepo) SetPayoutAddress(ctx context.Context, id string, address string) error {
	return repos(r).do(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		u.PayoutAddress = address
		st.users[id] = u
		return nil
	})
}

type syncRepo repos

func (r syncRepo) Get(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := repos(r).do(func(st *state) error {
		ts = st.checkpoint
		return nil
	})
	return ts, err
}

func (r syncRepo) Set(ctx context.Context, ts time.Time) error {
	return repos(r).do(func(st *state) error {
		st.checkpoint = time.Unix(ts.Unix(), 0).UTC()
		return nil
	})
}

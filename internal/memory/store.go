// Package memory holds in-process stores used by STORE_BACKEND=memory and by tests.
//
// Writes made inside Within are staged and applied at commit, after checking
// that every product option they were based on still has the version that was
// read. A stale write fails the whole unit with orders.ErrConcurrentModification.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/gift-orders/internal/orders"
)

type wishKey struct{ user, product int64 }

type Store struct {
	mu           sync.Mutex
	products     map[int64]string
	options      map[int64]orders.ProductOption
	orders       map[int64]orders.Order
	wishes       map[wishKey]orders.WishlistEntry
	lastID       int64
	beforeCommit func()
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		products: map[int64]string{},
		options:  map[int64]orders.ProductOption{},
		orders:   map[int64]orders.Order{},
		wishes:   map[wishKey]orders.WishlistEntry{},
		now:      time.Now,
	}
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

func (s *Store) AddProduct(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.products[id] = name
	return id
}

func (s *Store) AddOption(productID int64, name string, qty int) orders.ProductOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := orders.ProductOption{ID: s.nextID(), ProductID: productID, Name: name, Quantity: qty}
	s.options[o.ID] = o
	return o
}

// Option returns the committed state of a product option.
func (s *Store) Option(id int64) (orders.ProductOption, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.options[id]
	return o, ok
}

// Orders returns every committed order ordered by id.
func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BeforeCommit installs a hook run after a unit's function returns and before
// its writes are validated. Tests use it to interleave competing commits.
func (s *Store) BeforeCommit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}

func (s *Store) Stores() orders.Stores { return s.storesFor(nil) }

func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, st orders.Stores) error) error {
	t := &txn{
		options: map[int64]orders.ProductOption{},
		base:    map[int64]int64{},
		deleted: map[wishKey]bool{},
		added:   map[wishKey]orders.WishlistEntry{},
	}
	if err := fn(ctx, s.storesFor(t)); err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.beforeCommit
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range t.base {
		if s.options[id].Version != v {
			return orders.ErrConcurrentModification
		}
	}
	for id, o := range t.options {
		s.options[id] = o
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	for k := range t.deleted {
		delete(s.wishes, k)
	}
	for k, w := range t.added {
		if _, ok := s.wishes[k]; !ok {
			s.wishes[k] = w
		}
	}
	return nil
}

func (s *Store) storesFor(t *txn) orders.Stores {
	return orders.Stores{
		Inventory: &inventory{s: s, t: t},
		Orders:    &orderStore{s: s, t: t},
		Wishlist:  &wishlist{s: s, t: t},
	}
}

// txn is a unit's private write set. A nil *txn means autocommit.
type txn struct {
	options map[int64]orders.ProductOption
	base    map[int64]int64 // option id -> committed version the staged write was based on
	orders  []orders.Order
	deleted map[wishKey]bool
	added   map[wishKey]orders.WishlistEntry
}

type inventory struct {
	s *Store
	t *txn
}

func (i *inventory) current(id int64) (orders.ProductOption, bool) {
	if i.t != nil {
		if o, ok := i.t.options[id]; ok {
			return o, true
		}
	}
	o, ok := i.s.options[id]
	return o, ok
}

func (i *inventory) Option(_ context.Context, id int64) (orders.ProductOption, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	o, ok := i.current(id)
	if !ok {
		return orders.ProductOption{}, orders.ErrProductOptionNotFound
	}
	return o, nil
}

func (i *inventory) Decrement(_ context.Context, opt orders.ProductOption, amount int) (orders.ProductOption, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	cur, ok := i.current(opt.ID)
	if !ok {
		return orders.ProductOption{}, orders.ErrProductOptionNotFound
	}
	if cur.Version != opt.Version || cur.Quantity < amount {
		return orders.ProductOption{}, orders.ErrConcurrentModification
	}
	next := cur
	next.Quantity -= amount
	next.Version++
	if i.t == nil {
		i.s.options[next.ID] = next
		return next, nil
	}
	if _, staged := i.t.base[next.ID]; !staged {
		i.t.base[next.ID] = cur.Version
	}
	i.t.options[next.ID] = next
	return next, nil
}

type orderStore struct {
	s *Store
	t *txn
}

func (r *orderStore) Insert(_ context.Context, o orders.Order) (orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.ID = r.s.nextID()
	if r.t == nil {
		r.s.orders[o.ID] = o
	} else {
		r.t.orders = append(r.t.orders, o)
	}
	return o, nil
}

func (r *orderStore) Get(_ context.Context, id int64) (orders.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.t != nil {
		for _, o := range r.t.orders {
			if o.ID == id {
				return o, nil
			}
		}
	}
	o, ok := r.s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

type wishlist struct {
	s *Store
	t *txn
}

func (w *wishlist) visible(k wishKey) (orders.WishlistEntry, bool) {
	if w.t != nil {
		if w.t.deleted[k] {
			return orders.WishlistEntry{}, false
		}
		if e, ok := w.t.added[k]; ok {
			return e, true
		}
	}
	e, ok := w.s.wishes[k]
	return e, ok
}

func (w *wishlist) Add(_ context.Context, userID, productID int64) (orders.WishlistEntry, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if _, ok := w.s.products[productID]; !ok {
		return orders.WishlistEntry{}, orders.ErrProductNotFound
	}
	k := wishKey{userID, productID}
	if e, ok := w.visible(k); ok {
		return e, nil
	}
	e := orders.WishlistEntry{ID: w.s.nextID(), UserID: userID, ProductID: productID, CreatedAt: w.s.now()}
	if w.t == nil {
		w.s.wishes[k] = e
	} else {
		delete(w.t.deleted, k)
		w.t.added[k] = e
	}
	return e, nil
}

func (w *wishlist) List(_ context.Context, userID int64) ([]orders.WishlistEntry, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	out := []orders.WishlistEntry{}
	for k, e := range w.s.wishes {
		if k.user != userID {
			continue
		}
		if w.t != nil && w.t.deleted[k] {
			continue
		}
		out = append(out, e)
	}
	if w.t != nil {
		for k, e := range w.t.added {
			if k.user == userID {
				if _, committed := w.s.wishes[k]; !committed {
					out = append(out, e)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (w *wishlist) Delete(_ context.Context, userID, productID int64) (bool, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	k := wishKey{userID, productID}
	if _, ok := w.visible(k); !ok {
		return false, nil
	}
	if w.t == nil {
		delete(w.s.wishes, k)
		return true, nil
	}
	delete(w.t.added, k)
	w.t.deleted[k] = true
	return true, nil
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rabby420bd/tj/models"
)

// MemoryStore keeps everything in process. Transactions read without the
// lock and validate product versions at commit, so two placements that
// read the same product cannot both commit.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	orders   map[string]*models.Order
	chats    []models.ChatMessage

	// beforeCommit runs between the callback and validation. Tests use it to
	// interleave a competing writer.
	beforeCommit func()
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*models.Product),
		orders:   make(map[string]*models.Order),
	}
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// SetBeforeCommitHook installs fn to run after a transaction callback
// succeeds and before its writes are validated. Call it before any
// transaction starts.
func (s *MemoryStore) SetBeforeCommitHook(fn func()) {
	s.beforeCommit = fn
}

func (s *MemoryStore) FindProductByID(ctx context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) FindProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveProduct(ctx context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := product.Clone()
	if existing, ok := s.products[cp.ID]; ok {
		cp.Version = existing.Version + 1
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.Version = 1
	}
	s.products[cp.ID] = cp
	product.Version = cp.Version
	product.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) FindOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		switch {
		case filter.OrderID != "":
			if o.OrderID != filter.OrderID {
				continue
			}
		case filter.Phone != "":
			if o.Phone != filter.Phone {
				continue
			}
		}
		out = append(out, *o.Clone())
	}
	sortOrdersNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	all, err := s.FindOrders(ctx, OrderFilter{})
	if err != nil {
		return nil, 0, err
	}
	return paginate(all, page, limit), int64(len(all)), nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	return nil
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return ErrNotFound
	}
	delete(s.orders, orderID)
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, *msg)
	return nil
}

func (s *MemoryStore) FindMessages(ctx context.Context, customerID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMessage
	for _, m := range s.chats {
		if customerID == "" || m.CustomerID == customerID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, customerID string, sender models.Sender) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.chats {
		m := &s.chats[i]
		if m.CustomerID == customerID && m.Sender == sender && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

type memoryTx struct {
	*txState
	store *MemoryStore
}

func (t *memoryTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := t.cached(id); ok {
		return p, nil
	}
	p, err := t.store.FindProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.remember(p)
	return p.Clone(), nil
}

func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{txState: newTxState(), store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writes := tx.stockWrites()
	for _, w := range writes {
		current, ok := s.products[w.ProductID]
		if !ok || current.Version != w.ReadVersion {
			return ErrConflict
		}
	}
	for _, o := range tx.orders {
		if _, taken := s.orders[o.OrderID]; taken {
			return ErrOrderExists
		}
	}

	now := time.Now().UTC()
	for _, w := range writes {
		current := s.products[w.ProductID]
		current.Stock = w.Stock
		current.Version++
		current.UpdatedAt = now
	}
	for _, o := range tx.orders {
		s.orders[o.OrderID] = o.Clone()
	}
	return nil
}

func sortOrdersNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].Timestamp.After(orders[j].Timestamp)
	})
}

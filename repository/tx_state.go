package repository

import (
	"sort"

	"github.com/rabby420bd/tj/models"
)

// txState tracks what a transaction has read and what it wants to write.
// Backends embed it and only implement loading and commit.
type txState struct {
	reads  map[string]*models.Product
	stock  map[string]map[string]int
	orders []*models.Order
}

func newTxState() *txState {
	return &txState{
		reads: make(map[string]*models.Product),
		stock: make(map[string]map[string]int),
	}
}

// cached returns the staged view of a product already read in this transaction.
func (s *txState) cached(id string) (*models.Product, bool) {
	p, ok := s.reads[id]
	if !ok {
		return nil, false
	}
	view := p.Clone()
	for size, qty := range s.stock[id] {
		view.Stock[size] = qty
	}
	return view, true
}

func (s *txState) remember(p *models.Product) {
	s.reads[p.ID] = p.Clone()
}

func (s *txState) SetStock(productID, size string, quantity int) {
	sizes, ok := s.stock[productID]
	if !ok {
		sizes = make(map[string]int)
		s.stock[productID] = sizes
	}
	sizes[size] = quantity
}

func (s *txState) CreateOrder(order *models.Order) {
	s.orders = append(s.orders, order.Clone())
}

// stockWrite is the full stock map to persist for one product, guarded by the
// version observed when it was read.
type stockWrite struct {
	ProductID   string
	ReadVersion int64
	Stock       map[string]int
}

// stockWrites merges staged sizes into the read snapshot. Untouched sizes keep
// their read value. Output is sorted by product id so lock order is stable.
func (s *txState) stockWrites() []stockWrite {
	ids := make([]string, 0, len(s.stock))
	for id := range s.stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	writes := make([]stockWrite, 0, len(ids))
	for _, id := range ids {
		read := s.reads[id]
		merged := make(map[string]int, len(read.Stock)+len(s.stock[id]))
		for size, qty := range read.Stock {
			merged[size] = qty
		}
		for size, qty := range s.stock[id] {
			merged[size] = qty
		}
		writes = append(writes, stockWrite{ProductID: id, ReadVersion: read.Version, Stock: merged})
	}
	return writes
}

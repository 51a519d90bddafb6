package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// memDB is an in-memory stand-in for the relational store. A Transaction
// holds the lock for its whole duration and restores a snapshot on error.
type memDB struct {
	mu sync.Mutex

	nextOrderID   uint
	nextItemID    uint
	nextAttemptID uint

	orders   map[uint]models.Order
	attempts map[uint]models.PaymentAttempt
	events   map[string]models.ProcessedWebhookEvent
	products map[uint]models.Product

	failOrderCreate error
}

func newMemDB(products ...models.Product) *memDB {
	db := &memDB{
		orders:   map[uint]models.Order{},
		attempts: map[uint]models.PaymentAttempt{},
		events:   map[string]models.ProcessedWebhookEvent{},
		products: map[uint]models.Product{},
	}
	for _, p := range products {
		db.products[p.ID] = p
	}
	return db
}

type memSnapshot struct {
	nextOrderID, nextItemID, nextAttemptID uint

	orders   map[uint]models.Order
	attempts map[uint]models.PaymentAttempt
	events   map[string]models.ProcessedWebhookEvent
}

func (db *memDB) snapshot() memSnapshot {
	snap := memSnapshot{
		nextOrderID:   db.nextOrderID,
		nextItemID:    db.nextItemID,
		nextAttemptID: db.nextAttemptID,
		orders:        make(map[uint]models.Order, len(db.orders)),
		attempts:      make(map[uint]models.PaymentAttempt, len(db.attempts)),
		events:        make(map[string]models.ProcessedWebhookEvent, len(db.events)),
	}
	for k, v := range db.orders {
		v.Items = append([]models.OrderItem(nil), v.Items...)
		snap.orders[k] = v
	}
	for k, v := range db.attempts {
		snap.attempts[k] = v
	}
	for k, v := range db.events {
		snap.events[k] = v
	}
	return snap
}

func (db *memDB) restore(snap memSnapshot) {
	db.nextOrderID, db.nextItemID, db.nextAttemptID = snap.nextOrderID, snap.nextItemID, snap.nextAttemptID
	db.orders, db.attempts, db.events = snap.orders, snap.attempts, snap.events
}

func (db *memDB) orderCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.orders)
}

func (db *memDB) attemptByKey(key string) models.PaymentAttempt {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, a := range db.attempts {
		if a.AttemptKey == key {
			return a
		}
	}
	return models.PaymentAttempt{}
}

func (db *memDB) order(id uint) models.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.orders[id]
}

type memStore struct {
	db   *memDB
	inTx bool
}

func newMemStore(db *memDB) *memStore { return &memStore{db: db} }

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

func (s *memStore) Orders() repository.OrderRepository     { return memOrders{s} }
func (s *memStore) Payments() repository.PaymentRepository { return memPayments{s} }
func (s *memStore) Products() repository.ProductRepository { return memProducts{s} }

func (s *memStore) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return fn(s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	snap := s.db.snapshot()
	if err := fn(&memStore{db: s.db, inTx: true}); err != nil {
		s.db.restore(snap)
		return err
	}
	return nil
}

type memOrders struct{ s *memStore }

func (r memOrders) Create(ctx context.Context, order *models.Order) error {
	defer r.s.lock()()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.s.db.failOrderCreate != nil {
		return r.s.db.failOrderCreate
	}
	for _, item := range order.Items {
		if _, ok := r.s.db.products[item.ProductID]; !ok {
			return gorm.ErrForeignKeyViolated
		}
	}
	r.s.db.nextOrderID++
	order.ID = r.s.db.nextOrderID
	order.TotalPrice = models.ItemsTotal(order.Items)
	for i := range order.Items {
		r.s.db.nextItemID++
		order.Items[i].ID = r.s.db.nextItemID
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	stored.Items = append([]models.OrderItem(nil), order.Items...)
	r.s.db.orders[order.ID] = stored
	return nil
}

func (r memOrders) withProducts(o models.Order) models.Order {
	items := make([]models.OrderItem, len(o.Items))
	for i, item := range o.Items {
		p := r.s.db.products[item.ProductID]
		item.Product = &p
		items[i] = item
	}
	o.Items = items
	return o
}

func (r memOrders) FindByID(_ context.Context, id uint) (*models.Order, error) {
	defer r.s.lock()()
	o, ok := r.s.db.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	o = r.withProducts(o)
	return &o, nil
}

func (r memOrders) list(filter func(models.Order) bool, page, limit int) ([]models.Order, int64) {
	var all []models.Order
	for _, o := range r.s.db.orders {
		if filter(o) {
			all = append(all, r.withProducts(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total
}

func (r memOrders) FindAll(_ context.Context, page, limit int) ([]models.Order, int64, error) {
	defer r.s.lock()()
	orders, total := r.list(func(models.Order) bool { return true }, page, limit)
	return orders, total, nil
}

func (r memOrders) FindByUserID(_ context.Context, userID uint, page, limit int) ([]models.Order, int64, error) {
	defer r.s.lock()()
	orders, total := r.list(func(o models.Order) bool { return o.UserID == userID }, page, limit)
	return orders, total, nil
}

func (r memOrders) UpdateFields(_ context.Context, id uint, updates map[string]any) error {
	defer r.s.lock()()
	o, ok := r.s.db.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["user_id"]; ok {
		o.UserID = v.(uint)
	}
	r.s.db.orders[id] = o
	return nil
}

func (r memOrders) ReplaceItems(_ context.Context, id uint, items []models.OrderItem) error {
	defer r.s.lock()()
	o, ok := r.s.db.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if o.Status != models.OrderStatusPending {
		return repository.ErrOrderNotPending
	}
	for _, item := range items {
		if _, ok := r.s.db.products[item.ProductID]; !ok {
			return gorm.ErrForeignKeyViolated
		}
	}
	o.Items = nil
	for _, item := range items {
		r.s.db.nextItemID++
		item.ID = r.s.db.nextItemID
		item.OrderID = id
		o.Items = append(o.Items, item)
	}
	o.TotalPrice = models.ItemsTotal(o.Items)
	r.s.db.orders[id] = o
	return nil
}

func (r memOrders) Delete(_ context.Context, id uint) error {
	defer r.s.lock()()
	if _, ok := r.s.db.orders[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.s.db.orders, id)
	return nil
}

func (r memOrders) MarkConfirmed(_ context.Context, id uint) (bool, error) {
	defer r.s.lock()()
	o, ok := r.s.db.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return false, nil
	}
	now := time.Now()
	o.Status = models.OrderStatusConfirmed
	o.ConfirmedAt = &now
	r.s.db.orders[id] = o
	return true, nil
}

func (r memOrders) MarkStatusIfPending(_ context.Context, id uint, status models.OrderStatus) (bool, error) {
	defer r.s.lock()()
	o, ok := r.s.db.orders[id]
	if !ok || o.Status != models.OrderStatusPending {
		return false, nil
	}
	o.Status = status
	r.s.db.orders[id] = o
	return true, nil
}

type memPayments struct{ s *memStore }

func (r memPayments) CreateAttempt(_ context.Context, attempt *models.PaymentAttempt) error {
	defer r.s.lock()()
	for _, a := range r.s.db.attempts {
		if a.AttemptKey == attempt.AttemptKey {
			return gorm.ErrDuplicatedKey
		}
	}
	r.s.db.nextAttemptID++
	attempt.ID = r.s.db.nextAttemptID
	attempt.CreatedAt = time.Now()
	r.s.db.attempts[attempt.ID] = *attempt
	return nil
}

func (r memPayments) find(match func(models.PaymentAttempt) bool) (*models.PaymentAttempt, error) {
	for _, a := range r.s.db.attempts {
		if match(a) {
			a := a
			return &a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memPayments) FindAttemptByKey(_ context.Context, key string) (*models.PaymentAttempt, error) {
	defer r.s.lock()()
	return r.find(func(a models.PaymentAttempt) bool { return a.AttemptKey == key })
}

func (r memPayments) FindAttemptByGatewayRef(_ context.Context, ref string) (*models.PaymentAttempt, error) {
	defer r.s.lock()()
	return r.find(func(a models.PaymentAttempt) bool { return a.GatewayRef != nil && *a.GatewayRef == ref })
}

func (r memPayments) ListAttemptsByStatus(_ context.Context, statuses ...models.AttemptStatus) ([]models.PaymentAttempt, error) {
	defer r.s.lock()()
	var out []models.PaymentAttempt
	for _, a := range r.s.db.attempts {
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memPayments) CountOpenAttemptsForOrder(_ context.Context, orderID uint) (int64, error) {
	defer r.s.lock()()
	var n int64
	for _, a := range r.s.db.attempts {
		if a.OrderID == nil || *a.OrderID != orderID {
			continue
		}
		if a.Status == models.AttemptInitiated || a.Status == models.AttemptSessionCreated {
			n++
		}
	}
	return n, nil
}

func applyAttemptUpdates(a *models.PaymentAttempt, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "status":
			a.Status = v.(models.AttemptStatus)
		case "gateway_ref":
			ref := v.(string)
			a.GatewayRef = &ref
		case "order_id":
			id := v.(uint)
			a.OrderID = &id
		case "failure_reason":
			a.FailureReason = v.(string)
		}
	}
	a.UpdatedAt = time.Now()
}

func (r memPayments) UpdateAttempt(_ context.Context, id uint, updates map[string]any) error {
	defer r.s.lock()()
	a, ok := r.s.db.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	applyAttemptUpdates(&a, updates)
	r.s.db.attempts[id] = a
	return nil
}

func (r memPayments) TransitionAttempt(_ context.Context, id uint, from []models.AttemptStatus, updates map[string]any) (bool, error) {
	defer r.s.lock()()
	a, ok := r.s.db.attempts[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if a.Status == st {
			applyAttemptUpdates(&a, updates)
			r.s.db.attempts[id] = a
			return true, nil
		}
	}
	return false, nil
}

func (r memPayments) MarkEventProcessed(_ context.Context, event *models.ProcessedWebhookEvent) (bool, error) {
	defer r.s.lock()()
	if _, ok := r.s.db.events[event.EventID]; ok {
		return false, nil
	}
	r.s.db.events[event.EventID] = *event
	return true, nil
}

type memProducts struct{ s *memStore }

func (r memProducts) FindAll(_ context.Context, categoryID uint) ([]models.Product, error) {
	defer r.s.lock()()
	var out []models.Product
	for _, p := range r.s.db.products {
		if categoryID == 0 || p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memProducts) FindByID(_ context.Context, id uint) (*models.Product, error) {
	defer r.s.lock()()
	p, ok := r.s.db.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r memProducts) FindByIDs(_ context.Context, ids []uint) ([]models.Product, error) {
	defer r.s.lock()()
	var out []models.Product
	for _, id := range ids {
		if p, ok := r.s.db.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memProducts) Create(_ context.Context, product *models.Product) error {
	defer r.s.lock()()
	product.ID = uint(len(r.s.db.products) + 1)
	r.s.db.products[product.ID] = *product
	return nil
}

func (r memProducts) Update(_ context.Context, id uint, updates map[string]any) error {
	defer r.s.lock()()
	p, ok := r.s.db.products[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["price"]; ok {
		p.Price = v.(decimal.Decimal)
	}
	if v, ok := updates["name"]; ok {
		p.Name = v.(string)
	}
	r.s.db.products[id] = p
	return nil
}

func (r memProducts) Delete(_ context.Context, id uint) error {
	defer r.s.lock()()
	for _, o := range r.s.db.orders {
		for _, item := range o.Items {
			if item.ProductID == id {
				return gorm.ErrForeignKeyViolated
			}
		}
	}
	if _, ok := r.s.db.products[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.s.db.products, id)
	return nil
}

// catalogPrices resolves prices straight from memDB products.
type catalogPrices struct{ db *memDB }

func (c catalogPrices) ResolveProducts(_ context.Context, ids []uint) (map[uint]models.Product, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	out := make(map[uint]models.Product, len(ids))
	for _, id := range ids {
		p, ok := c.db.products[id]
		if !ok {
			return nil, apperrors.Validation(fmt.Sprintf("Product %d not found", id))
		}
		out[id] = p
	}
	return out, nil
}

const validSignature = "t=1,v1=valid"

// fakeGateway decodes webhook payloads as JSON GatewayEvents and accepts
// only validSignature.
type fakeGateway struct {
	mu       sync.Mutex
	charges  []ChargeRequest
	sessions []CheckoutSessionRequest

	chargeFn  func(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	sessionFn func(req CheckoutSessionRequest) (*CheckoutSession, error)
}

func (g *fakeGateway) AuthorizeAndCapture(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	fn := g.chargeFn
	g.mu.Unlock()
	if fn == nil {
		return &ChargeResult{Status: ChargeSucceeded, ChargeID: "pi_" + req.IdempotencyKey}, nil
	}
	return fn(ctx, req)
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	g.sessions = append(g.sessions, req)
	fn := g.sessionFn
	g.mu.Unlock()
	if fn == nil {
		id := "cs_" + req.IdempotencyKey
		return &CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
	}
	return fn(req)
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*GatewayEvent, error) {
	if signatureHeader != validSignature {
		return nil, ErrSignatureInvalid
	}
	var ev GatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	return &ev, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []models.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.OrderEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{seen: map[string]bool{}} }

func (d *memDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *memDeduper) Remember(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}

func testProducts() []models.Product {
	return []models.Product{
		{ID: 1, Name: "Soul Lantern", Price: decimal.RequireFromString("10.00"), CategoryID: 1},
		{ID: 2, Name: "Bone Charm", Price: decimal.RequireFromString("5.00"), CategoryID: 1},
	}
}

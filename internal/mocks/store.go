package mocks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// MockStore is an in-memory implementation of the service repositories for testing.
// It enforces the same version checks, stock guards and task dedupe as the Postgres store
// and hands out copies, so callers cannot mutate stored rows.
type MockStore struct {
	mu sync.Mutex

	nextID   int64
	orderSeq int

	products      map[int64]*models.Product
	orders        map[int64]*models.Order
	items         map[int64][]models.OrderItem
	orderAddrs    map[int64]map[string]models.OrderAddress
	movements     []models.StockMovement
	webhooks      []models.WebhookRecord
	tasks         []models.OutboxTask
	carts         map[int64][]models.CartItem
	userAddresses map[int64]*models.Address
	coupons       map[string]*models.Coupon
	redemptions   []models.CouponRedemption

	errs map[string]error

	// WriteCalls records every mutating call by method name.
	WriteCalls []string
	// BeforeSave runs inside SaveOrder before the version check. Tests use it to
	// simulate a concurrent writer.
	BeforeSave func(order *models.Order)
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		products:      make(map[int64]*models.Product),
		orders:        make(map[int64]*models.Order),
		items:         make(map[int64][]models.OrderItem),
		orderAddrs:    make(map[int64]map[string]models.OrderAddress),
		carts:         make(map[int64][]models.CartItem),
		userAddresses: make(map[int64]*models.Address),
		coupons:       make(map[string]*models.Coupon),
		errs:          make(map[string]error),
	}
}

// FailOn makes every later call of method return err. A nil err clears it.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockStore) write(method string) error {
	m.WriteCalls = append(m.WriteCalls, method)
	return m.errs[method]
}

// Seeding helpers

func (m *MockStore) AddProduct(p models.Product) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	if p.StockStatus == "" {
		p.StockStatus = models.DeriveStockStatus(p.StockQuantity, 5)
	}
	m.products[p.ID] = &p
	cp := p
	return &cp
}

func (m *MockStore) AddAddress(a models.Address) *models.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	if a.Kind == "" {
		a.Kind = models.AddressShipping
	}
	m.userAddresses[a.ID] = &a
	cp := a
	return &cp
}

func (m *MockStore) AddCartItem(userID, productID int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = append(m.carts[userID], models.CartItem{UserID: userID, ProductID: productID, Quantity: qty})
}

func (m *MockStore) AddCoupon(c models.Coupon) *models.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	c.Code = strings.ToUpper(c.Code)
	m.coupons[c.Code] = &c
	cp := c
	return &cp
}

// PutOrderItems replaces an order's items without validation, for seeding bad data.
func (m *MockStore) PutOrderItems(orderID int64, items []models.OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[orderID] = append([]models.OrderItem(nil), items...)
}

// Inspection helpers

func (m *MockStore) Product(id int64) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.products[id]
}

func (m *MockStore) Order(id int64) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *MockStore) Orders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockStore) AllMovements() []models.StockMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StockMovement(nil), m.movements...)
}

func (m *MockStore) Webhooks() []models.WebhookRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WebhookRecord(nil), m.webhooks...)
}

func (m *MockStore) Tasks() []models.OutboxTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OutboxTask(nil), m.tasks...)
}

func (m *MockStore) CartItems(userID int64) []models.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CartItem(nil), m.carts[userID]...)
}

func (m *MockStore) Redemptions() []models.CouponRedemption {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CouponRedemption(nil), m.redemptions...)
}

func (m *MockStore) Coupon(code string) models.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.coupons[strings.ToUpper(code)]
}

// Products

func (m *MockStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// Stock

func (m *MockStore) DebitStock(ctx context.Context, mv *models.StockMovement, lowStockThreshold int) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("DebitStock"); err != nil {
		return nil, err
	}
	p, ok := m.products[mv.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.StockQuantity < mv.Quantity {
		return nil, store.ErrInsufficientStock
	}
	m.applyMovement(p, mv, p.StockQuantity-mv.Quantity, lowStockThreshold)
	cp := *p
	return &cp, nil
}

func (m *MockStore) CreditStock(ctx context.Context, mv *models.StockMovement, lowStockThreshold int) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("CreditStock"); err != nil {
		return nil, err
	}
	p, ok := m.products[mv.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.applyMovement(p, mv, p.StockQuantity+mv.Quantity, lowStockThreshold)
	cp := *p
	return &cp, nil
}

func (m *MockStore) applyMovement(p *models.Product, mv *models.StockMovement, newStock, threshold int) {
	mv.ID = m.id()
	mv.PreviousStock = p.StockQuantity
	mv.NewStock = newStock
	mv.CreatedAt = time.Now()
	p.StockQuantity = newStock
	p.StockStatus = models.DeriveStockStatus(newStock, threshold)
	p.UpdatedAt = mv.CreatedAt
	m.movements = append(m.movements, *mv)
}

func (m *MockStore) ListMovements(ctx context.Context, productID int64) ([]models.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StockMovement
	for _, mv := range m.movements {
		if mv.ProductID == productID {
			out = append(out, mv)
		}
	}
	return out, nil
}

// Orders

func (m *MockStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("CreateOrder"); err != nil {
		return err
	}
	for _, o := range m.orders {
		if o.IdempotencyKey == order.IdempotencyKey {
			return errors.New("duplicate key value violates unique constraint \"orders_idempotency_key_key\"")
		}
	}
	m.orderSeq++
	now := time.Now()
	order.ID = m.id()
	order.OrderNumber = fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), m.orderSeq)
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *MockStore) SaveOrder(ctx context.Context, order *models.Order, tasks ...models.OutboxTask) error {
	if m.BeforeSave != nil {
		m.BeforeSave(order)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("SaveOrder"); err != nil {
		return err
	}
	current, ok := m.orders[order.ID]
	if !ok || current.Version != order.Version {
		return store.ErrConcurrentUpdate
	}
	saved := *order
	saved.Version++
	saved.UpdatedAt = time.Now()
	m.orders[order.ID] = &saved
	for _, task := range tasks {
		m.enqueue(task)
	}
	order.Version = saved.Version
	order.UpdatedAt = saved.UpdatedAt
	return nil
}

// BumpVersion simulates another writer saving the order.
func (m *MockStore) BumpVersion(orderID int64, edit func(o *models.Order)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	if edit != nil {
		edit(o)
	}
	o.Version++
}

func (m *MockStore) findOrder(match func(o *models.Order) bool) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.ID == id })
}

func (m *MockStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.OrderNumber == orderNumber })
}

func (m *MockStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	o, err := m.findOrder(func(o *models.Order) bool { return o.IdempotencyKey == key })
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (m *MockStore) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.GatewayOrderID != "" && o.GatewayOrderID == gatewayOrderID })
}

func (m *MockStore) GetOrderByAWB(ctx context.Context, awb string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.AWBCode != "" && o.AWBCode == awb })
}

func (m *MockStore) GetOrderByCarrierOrderID(ctx context.Context, carrierOrderID string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.CarrierOrderID != "" && o.CarrierOrderID == carrierOrderID })
}

func (m *MockStore) GetOrderByCarrierShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	return m.findOrder(func(o *models.Order) bool { return o.CarrierShipmentID != "" && o.CarrierShipmentID == shipmentID })
}

func (m *MockStore) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("CreateOrderItem"); err != nil {
		return err
	}
	item.ID = m.id()
	item.CreatedAt = time.Now()
	m.items[item.OrderID] = append(m.items[item.OrderID], *item)
	return nil
}

func (m *MockStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *MockStore) CreateOrderAddress(ctx context.Context, addr *models.OrderAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("CreateOrderAddress"); err != nil {
		return err
	}
	if m.orderAddrs[addr.OrderID] == nil {
		m.orderAddrs[addr.OrderID] = make(map[string]models.OrderAddress)
	}
	addr.ID = m.id()
	m.orderAddrs[addr.OrderID][addr.Kind] = *addr
	return nil
}

func (m *MockStore) GetOrderAddress(ctx context.Context, orderID int64, kind string) (*models.OrderAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.orderAddrs[orderID][kind]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &addr, nil
}

// Webhooks

func (m *MockStore) RecordWebhook(ctx context.Context, rec *models.WebhookRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("RecordWebhook"); err != nil {
		return false, err
	}
	duplicate := false
	for _, w := range m.webhooks {
		if w.Source == rec.Source && w.EventID == rec.EventID && w.Processed {
			duplicate = true
		}
	}
	rec.ID = m.id()
	rec.CreatedAt = time.Now()
	m.webhooks = append(m.webhooks, *rec)
	return duplicate, nil
}

func (m *MockStore) MarkWebhookProcessed(ctx context.Context, id int64, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("MarkWebhookProcessed"); err != nil {
		return err
	}
	for i := range m.webhooks {
		if m.webhooks[i].ID == id {
			now := time.Now()
			m.webhooks[i].Processed = processingError == ""
			m.webhooks[i].ProcessingError = processingError
			m.webhooks[i].ProcessedAt = &now
		}
	}
	return nil
}

// Outbox

func (m *MockStore) enqueue(task models.OutboxTask) {
	for _, t := range m.tasks {
		if t.Kind == task.Kind && t.OrderID == task.OrderID {
			return
		}
	}
	task.ID = m.id()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = models.DefaultTaskMaxAttempts
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	m.tasks = append(m.tasks, task)
}

func (m *MockStore) EnqueueTask(ctx context.Context, task models.OutboxTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("EnqueueTask"); err != nil {
		return err
	}
	m.enqueue(task)
	return nil
}

func (m *MockStore) ClaimDueTasks(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["ClaimDueTasks"]; err != nil {
		return nil, err
	}
	now := time.Now()
	var claimed []models.OutboxTask
	for i := range m.tasks {
		t := &m.tasks[i]
		if len(claimed) >= limit {
			break
		}
		if t.Status != models.TaskStatusPending || t.NextAttemptAt.After(now) {
			continue
		}
		t.Attempts++
		t.NextAttemptAt = now.Add(lease)
		t.UpdatedAt = now
		claimed = append(claimed, *t)
	}
	return claimed, nil
}

func (m *MockStore) CompleteTask(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks[i].Status = models.TaskStatusDone
			m.tasks[i].LastError = ""
		}
	}
	return nil
}

func (m *MockStore) FailTask(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks[i].LastError = lastError
			m.tasks[i].NextAttemptAt = nextAttemptAt
			if dead {
				m.tasks[i].Status = models.TaskStatusDead
			}
		}
	}
	return nil
}

// ExpireTasks makes every pending task due now.
func (m *MockStore) ExpireTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		m.tasks[i].NextAttemptAt = time.Now().Add(-time.Second)
	}
}

func (m *MockStore) ListTasksForOrder(ctx context.Context, orderID int64) ([]models.OutboxTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxTask
	for _, t := range m.tasks {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Carts, addresses and coupons

func (m *MockStore) GetCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CartItem(nil), m.carts[userID]...), nil
}

func (m *MockStore) ClearCart(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("ClearCart"); err != nil {
		return err
	}
	delete(m.carts, userID)
	return nil
}

func (m *MockStore) GetAddressByID(ctx context.Context, id int64) (*models.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.userAddresses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockStore) GetDefaultAddress(ctx context.Context, userID int64, kind string) (*models.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Address
	for _, a := range m.userAddresses {
		if a.UserID != userID || a.Kind != kind {
			continue
		}
		if best == nil || (a.IsDefault && !best.IsDefault) || (a.IsDefault == best.IsDefault && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockStore) CountCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.redemptions {
		if r.CouponID == couponID && r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) RedeemCoupon(ctx context.Context, redemption *models.CouponRedemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("RedeemCoupon"); err != nil {
		return err
	}
	for _, c := range m.coupons {
		if c.ID != redemption.CouponID {
			continue
		}
		if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
			return store.ErrCouponExhausted
		}
		c.UsedCount++
		redemption.ID = m.id()
		redemption.CreatedAt = time.Now()
		m.redemptions = append(m.redemptions, *redemption)
		return nil
	}
	return store.ErrNotFound
}

func (m *MockStore) DeleteCouponRedemption(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("DeleteCouponRedemption"); err != nil {
		return err
	}
	kept := m.redemptions[:0]
	for _, r := range m.redemptions {
		if r.OrderID != orderID {
			kept = append(kept, r)
			continue
		}
		for _, c := range m.coupons {
			if c.ID == r.CouponID && c.UsedCount > 0 {
				c.UsedCount--
			}
		}
	}
	m.redemptions = kept
	return nil
}

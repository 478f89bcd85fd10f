package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/internal/cart"
	"github.com/angelmondragon/supermarket-backend/internal/catalog"
	"github.com/angelmondragon/supermarket-backend/internal/orders"
	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/lock"
	"github.com/angelmondragon/supermarket-backend/pkg/metrics"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	redisclient "github.com/angelmondragon/supermarket-backend/pkg/redis"
)

type fixture struct {
	client   *db.Client
	cart     cart.Service
	checkout Service
	reg      *prometheus.Registry
}

func newFixture(t *testing.T, opts ...func(*Deps)) fixture {
	t.Helper()
	client := dbtest.Open(t)
	reg := prometheus.NewRegistry()
	commerce := metrics.NewCommerceMetrics(reg)
	catalogRepo := catalog.NewRepository(client.DB())
	cartRepo := cart.NewRepository(client.DB())

	cartSvc, err := cart.NewService(cart.Deps{
		Repo:     cartRepo,
		Stock:    cart.NewCatalogStock(catalogRepo),
		Products: catalogRepo,
		Tx:       client,
		Metrics:  commerce,
	})
	require.NoError(t, err)

	deps := Deps{
		Carts:    cartRepo,
		Clearer:  cartSvc,
		Orders:   orders.NewRepository(client.DB()),
		Products: catalogRepo,
		Tx:       client,
		Events:   outbox.NewWriter(outbox.NewRepository(client.DB()), nil),
		Metrics:  commerce,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	return fixture{client: client, cart: cartSvc, checkout: svc, reg: reg}
}

// failingOrders fails order line inserts for one product name.
type failingOrders struct {
	orders.Repository
	productName string
}

func (f failingOrders) WithTx(tx *gorm.DB) orders.Repository {
	return failingOrders{Repository: f.Repository.WithTx(tx), productName: f.productName}
}

func (f failingOrders) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if item.ProductName == f.productName {
		return errors.New("constraint violated")
	}
	return f.Repository.CreateOrderItem(ctx, item)
}

// observingOrders records how the order looks to reconciliation while its
// lines are still being written.
type observingOrders struct {
	orders.Repository
	seen *orderObservation
}

type orderObservation struct {
	status          enums.OrderStatus
	awaiting        int64
	reconcileMarked bool
}

func (o observingOrders) WithTx(tx *gorm.DB) orders.Repository {
	return observingOrders{Repository: o.Repository.WithTx(tx), seen: o.seen}
}

func (o observingOrders) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	order, err := o.Repository.FindOrder(ctx, item.OrderID)
	if err != nil {
		return err
	}
	o.seen.status = order.Status
	if o.seen.awaiting, err = o.Repository.CountPendingReconciliation(ctx); err != nil {
		return err
	}
	if o.seen.reconcileMarked, err = o.Repository.MarkReconciled(ctx, item.OrderID, time.Now().UTC()); err != nil {
		return err
	}
	return o.Repository.CreateOrderItem(ctx, item)
}

// failingFinalize refuses to settle orders.
type failingFinalize struct {
	orders.Repository
}

func (f failingFinalize) WithTx(tx *gorm.DB) orders.Repository {
	return failingFinalize{Repository: f.Repository.WithTx(tx)}
}

func (failingFinalize) FinalizeOutcome(context.Context, uuid.UUID, enums.OrderStatus, int) error {
	return errors.New("connection reset")
}

func (f fixture) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	mfs, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f fixture) cartLines(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.client.DB().Model(&models.CartItem{}).
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("carts.user_id = ?", userID).
		Count(&count).Error)
	return count
}

func (f fixture) soldQuantity(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var total int64
	require.NoError(t, f.client.DB().Model(&models.OrderItem{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error)
	return int(total)
}

func (f fixture) eventTypes(t *testing.T, orderID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.client.DB().Where("aggregate_id = ?", orderID).Find(&rows).Error)
	types := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(Deps{})
	require.Error(t, err)
}

func TestCheckoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	product := dbtest.SeedProduct(t, f.client, "Coffee Beans", "12.50", 5)

	_, err := f.cart.AddItem(ctx, user.ID, product.ID, 3)
	require.NoError(t, err)
	_, err = f.cart.AddItem(ctx, user.ID, product.ID, 3)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	_, err = f.cart.UpdateItem(ctx, user.ID, product.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 3, dbtest.AvailableQuantity(t, f.client, product.ID))

	result, err := f.checkout.Execute(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, result.PartialError())

	assert.Equal(t, enums.OrderStatusComplete, result.Status)
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, product.ID, result.Order.Items[0].ProductID)
	assert.Equal(t, 2, result.Order.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("12.50").Equal(result.Order.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("25.00").Equal(result.Order.TotalAmount))
	assert.True(t, result.Cart.Complete())

	assert.EqualValues(t, 0, f.cartLines(t, user.ID))
	assert.Equal(t, 3, dbtest.AvailableQuantity(t, f.client, product.ID))

	var stored models.Order
	require.NoError(t, f.client.DB().Preload("Items").First(&stored, "id = ?", result.Order.ID).Error)
	assert.Equal(t, enums.OrderStatusComplete, stored.Status)
	assert.Zero(t, stored.FailedLineCount)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Coffee Beans", stored.Items[0].ProductName)

	assert.ElementsMatch(t,
		[]enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderLinesRecorded},
		f.eventTypes(t, result.Order.ID))
	assert.Equal(t, 1.0, f.counter(t, "checkout_total", "result", metrics.CheckoutComplete))
}

func TestCheckoutFreezesCheckoutTimePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	product := dbtest.SeedProduct(t, f.client, "Tea", "4.00", 10)

	_, err := f.cart.AddItem(ctx, user.ID, product.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("price", decimal.RequireFromString("5.25")).Error)

	result, err := f.checkout.Execute(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, result.Order.Items, 1)
	assert.True(t, decimal.RequireFromString("5.25").Equal(result.Order.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("10.50").Equal(result.Order.TotalAmount))

	require.NoError(t, f.client.DB().Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("price", decimal.RequireFromString("9.99")).Error)

	var item models.OrderItem
	require.NoError(t, f.client.DB().First(&item, "order_id = ?", result.Order.ID).Error)
	assert.True(t, decimal.RequireFromString("5.25").Equal(item.UnitPrice))
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)

	_, err := f.checkout.Execute(ctx, user.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart), "no cart yet: %v", err)

	_, err = f.cart.GetOrCreateCart(ctx, user.ID)
	require.NoError(t, err)
	_, err = f.checkout.Execute(ctx, user.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart), "cart without lines: %v", err)

	var orderCount int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Count(&orderCount).Error)
	assert.Zero(t, orderCount)
	assert.Equal(t, 2.0, f.counter(t, "checkout_total", "result", metrics.CheckoutEmpty))
}

func TestCheckoutPartialKeepsOrderAndClearsCart(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Orders = failingOrders{Repository: d.Orders, productName: "Milk"}
	})
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	good := dbtest.SeedProduct(t, f.client, "Bread", "3.00", 10)
	bad := dbtest.SeedProduct(t, f.client, "Milk", "2.00", 10)

	_, err := f.cart.AddItem(ctx, user.ID, good.ID, 2)
	require.NoError(t, err)
	_, err = f.cart.AddItem(ctx, user.ID, bad.ID, 4)
	require.NoError(t, err)

	result, err := f.checkout.Execute(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPartial, result.Status)
	require.Len(t, result.FailedLines, 1)
	assert.Equal(t, bad.ID, result.FailedLines[0].ProductID)
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, good.ID, result.Order.Items[0].ProductID)
	assert.True(t, decimal.RequireFromString("14.00").Equal(result.Order.TotalAmount))

	partial := pkgerrors.As(result.PartialError())
	require.NotNil(t, partial)
	assert.Equal(t, pkgerrors.CodePartialCheckout, partial.Code())

	var stored models.Order
	require.NoError(t, f.client.DB().First(&stored, "id = ?", result.Order.ID).Error)
	assert.Equal(t, enums.OrderStatusPartial, stored.Status)
	assert.Equal(t, 1, stored.FailedLineCount)
	assert.Nil(t, stored.ReconciledAt)

	assert.EqualValues(t, 0, f.cartLines(t, user.ID))
	assert.Equal(t, 8, dbtest.AvailableQuantity(t, f.client, good.ID))
	assert.Equal(t, 10, dbtest.AvailableQuantity(t, f.client, bad.ID), "failed line returns to the shelf")

	assert.ElementsMatch(t,
		[]enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderLinesRecorded, enums.EventOrderPartial},
		f.eventTypes(t, result.Order.ID))
	assert.Equal(t, 1.0, f.counter(t, "checkout_total", "result", metrics.CheckoutPartial))
	assert.Equal(t, 1.0, f.counter(t, "checkout_order_line_failures_total", "", ""))
}

func TestCheckoutConservesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	bob := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	product := dbtest.SeedProduct(t, f.client, "Rice", "1.80", 20)
	const stocked = 20

	conserved := func() {
		t.Helper()
		var inCarts int64
		require.NoError(t, f.client.DB().Model(&models.CartItem{}).
			Where("product_id = ?", product.ID).
			Select("COALESCE(SUM(quantity), 0)").
			Scan(&inCarts).Error)
		total := dbtest.AvailableQuantity(t, f.client, product.ID) + int(inCarts) + f.soldQuantity(t, product.ID)
		require.Equal(t, stocked, total)
	}

	_, err := f.cart.AddItem(ctx, alice.ID, product.ID, 5)
	require.NoError(t, err)
	conserved()
	_, err = f.cart.AddItem(ctx, bob.ID, product.ID, 7)
	require.NoError(t, err)
	conserved()
	_, err = f.checkout.Execute(ctx, alice.ID)
	require.NoError(t, err)
	conserved()
	_, err = f.cart.UpdateItem(ctx, bob.ID, product.ID, 3)
	require.NoError(t, err)
	conserved()
	_, err = f.checkout.Execute(ctx, bob.ID)
	require.NoError(t, err)
	conserved()

	assert.Equal(t, 8, f.soldQuantity(t, product.ID))
	assert.Equal(t, 12, dbtest.AvailableQuantity(t, f.client, product.ID))
}

func TestCheckoutRejectsConcurrentCheckoutForSameUser(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	locks := lock.NewRedisFactory(redisclient.NewFromRaw(raw), time.Minute)

	f := newFixture(t, func(d *Deps) { d.Locks = locks })
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	product := dbtest.SeedProduct(t, f.client, "Salt", "0.90", 3)
	_, err := f.cart.AddItem(ctx, user.ID, product.ID, 1)
	require.NoError(t, err)

	held, err := locks.New("checkout:" + user.ID.String())
	require.NoError(t, err)
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.checkout.Execute(ctx, user.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.EqualValues(t, 1, f.cartLines(t, user.ID))

	require.NoError(t, held.Release(ctx))
	result, err := f.checkout.Execute(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusComplete, result.Status)
	assert.False(t, mr.Exists(redisclient.LockKey("checkout:"+user.ID.String())))
}

func TestCheckoutOrderIsPendingUntilSettled(t *testing.T) {
	seen := &orderObservation{}
	f := newFixture(t, func(d *Deps) {
		d.Orders = observingOrders{Repository: d.Orders, seen: seen}
	})
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	product := dbtest.SeedProduct(t, f.client, "Honey", "6.00", 4)
	_, err := f.cart.AddItem(ctx, user.ID, product.ID, 1)
	require.NoError(t, err)

	result, err := f.checkout.Execute(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusComplete, result.Status)

	assert.Equal(t, enums.OrderStatusPending, seen.status)
	assert.Zero(t, seen.awaiting, "an order being written is not awaiting reconciliation")
	assert.False(t, seen.reconcileMarked)

	var stored models.Order
	require.NoError(t, f.client.DB().First(&stored, "id = ?", result.Order.ID).Error)
	assert.Equal(t, enums.OrderStatusComplete, stored.Status)
	assert.Nil(t, stored.ReconciledAt)
}

func TestCheckoutFinalizeFailureLeavesOrderPending(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Orders = failingFinalize{Repository: d.Orders}
	})
	ctx := context.Background()
	user := dbtest.SeedUser(t, f.client, enums.UserRoleUser)
	product := dbtest.SeedProduct(t, f.client, "Butter", "2.40", 6)
	_, err := f.cart.AddItem(ctx, user.ID, product.ID, 2)
	require.NoError(t, err)

	result, err := f.checkout.Execute(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPartial, result.Status)
	require.Error(t, result.PartialError())

	var stored models.Order
	require.NoError(t, f.client.DB().Preload("Items").First(&stored, "id = ?", result.Order.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, f.soldQuantity(t, product.ID))
	assert.EqualValues(t, 0, f.cartLines(t, user.ID))
}

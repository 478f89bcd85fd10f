package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openModelsDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:models_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Product{}, &Cart{}, &CartItem{}, &Order{}, &OrderItem{}, &User{}, &OutboxEvent{}))
	return conn
}

func TestBeforeCreateAssignsIDs(t *testing.T) {
	conn := openModelsDB(t)

	product := Product{Name: "Milk", Price: decimal.RequireFromString("1.25"), AvailableQuantity: 4}
	require.NoError(t, conn.Create(&product).Error)
	require.NotEqual(t, uuid.Nil, product.ID)

	fixed := uuid.New()
	user := User{ID: fixed, Username: "ana", Email: "ana@example.com", PasswordHash: "x", Address: "a", Contact: "c", Role: "user"}
	require.NoError(t, conn.Create(&user).Error)
	require.Equal(t, fixed, user.ID)
}

func TestProductAvailableQuantityCheck(t *testing.T) {
	conn := openModelsDB(t)

	product := Product{Name: "Bread", Price: decimal.RequireFromString("2.00"), AvailableQuantity: 1}
	require.NoError(t, conn.Create(&product).Error)

	err := conn.Model(&Product{}).
		Where("id = ?", product.ID).
		Update("available_quantity", gorm.Expr("available_quantity - ?", 2)).Error
	require.Error(t, err)
}

func TestCartItemUniquePerProduct(t *testing.T) {
	conn := openModelsDB(t)

	cart := Cart{UserID: uuid.New()}
	require.NoError(t, conn.Create(&cart).Error)
	productID := uuid.New()
	require.NoError(t, conn.Create(&CartItem{CartID: cart.ID, ProductID: productID, Quantity: 1}).Error)
	require.Error(t, conn.Create(&CartItem{CartID: cart.ID, ProductID: productID, Quantity: 2}).Error)
}

func TestOrderItemSubtotal(t *testing.T) {
	item := OrderItem{Quantity: 3, UnitPrice: decimal.RequireFromString("1.10")}
	require.True(t, item.Subtotal().Equal(decimal.RequireFromString("3.30")))
}

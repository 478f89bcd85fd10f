// Package dbtest opens throwaway SQLite databases carrying the full model schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
)

// Open returns a client over a private in-memory database. The pool is pinned
// to one connection so concurrent callers queue instead of tripping SQLite's
// table locks; conditional updates still decide every race.
func Open(t testing.TB) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:sm_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db.NewFromGorm(conn)
}

// SeedProduct inserts an active product with the given price and shelf stock.
func SeedProduct(t testing.TB, client *db.Client, name, price string, qty int) *models.Product {
	t.Helper()
	product := &models.Product{
		Name:              name,
		Price:             decimal.RequireFromString(price),
		AvailableQuantity: qty,
	}
	if err := client.DB().Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedUser inserts an enabled account with the given role.
func SeedUser(t testing.TB, client *db.Client, role enums.UserRole) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		ID:           id,
		Username:     "user_" + id.String()[:8],
		Email:        fmt.Sprintf("%s@example.com", id.String()[:8]),
		PasswordHash: "hash",
		Address:      "1 Market St",
		Contact:      "555-0100",
		Role:         role,
	}
	if err := client.DB().Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// AvailableQuantity reads a product's shelf stock straight from the table.
func AvailableQuantity(t testing.TB, client *db.Client, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := client.DB().Select("available_quantity").First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.AvailableQuantity
}

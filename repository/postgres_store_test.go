package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rabby420bd/tj/models"
	"github.com/rabby420bd/tj/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

var productColumns = []string{"id", "name", "slug", "description", "price", "old_price", "images", "stock", "category", "version", "created_at", "updated_at"}

func productRow(id string, stock string, version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(productColumns).
		AddRow(id, "Cotton Shirt", "cotton-shirt", "", 850.0, nil, []byte(`[]`), []byte(stock), "Shirt", version, now, now)
}

func placeOne(productID, size, orderID string) func(ctx context.Context, tx repository.Tx) error {
	return func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		tx.SetStock(productID, size, p.StockFor(size)-1)
		tx.CreateOrder(&models.Order{OrderID: orderID, Status: models.StatusConfirmed, Timestamp: time.Now()})
		return nil
	}
}

func TestPostgresStore_RunInTransaction_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products"`) + ".*FOR UPDATE").
		WillReturnRows(productRow("P1", `{"M":2}`, 4))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTransaction(context.Background(), placeOne("P1", "M", "TJ123456789"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunInTransaction_VersionMoved(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products"`)).
		WillReturnRows(productRow("P1", `{"M":2}`, 4))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RunInTransaction(context.Background(), placeOne("P1", "M", "TJ123456789"))
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunInTransaction_DuplicateOrder(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products"`)).
		WillReturnRows(productRow("P1", `{"M":2}`, 4))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := store.RunInTransaction(context.Background(), placeOne("P1", "M", "TJ123456789"))
	assert.ErrorIs(t, err, repository.ErrOrderExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunInTransaction_MissingProduct(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products"`)).
		WillReturnRows(sqlmock.NewRows(productColumns))
	mock.ExpectRollback()

	err := store.RunInTransaction(context.Background(), placeOne("GONE", "M", "TJ123456789"))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOrderByID(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"order_id", "customer_name", "phone", "address", "location", "delivery_charge", "transaction_id", "customer_uid", "items", "subtotal", "total_amount", "status", "timestamp"}).
		AddRow("TJ123456789", "Rahim", "01711000789", "Dhanmondi", "Inside Dhaka", 110.0, "TX1", nil,
			[]byte(`[{"productId":"P1","name":"Cotton Shirt","size":"M","quantity":2,"price":850}]`),
			1700.0, 1810.0, "Confirmed", now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(rows)

	order, err := store.FindOrderByID(context.Background(), "TJ123456789")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, 1810.0, order.TotalAmount)
}

func TestPostgresStore_FindOrderByID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	o, err := store.FindOrderByID(context.Background(), "TJ000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, o)
}

func TestPostgresStore_UpdateOrderStatus(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET "status"=$1 WHERE order_id = $2`)).
		WithArgs("Shipped", "TJ123456789").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, store.UpdateOrderStatus(context.Background(), "TJ123456789", models.StatusShipped))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateOrderStatus_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.UpdateOrderStatus(context.Background(), "TJ000000000", models.StatusShipped)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgresStore_DeleteOrder(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewPostgresStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "orders" WHERE order_id = $1`)).
		WithArgs("TJ123456789").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, store.DeleteOrder(context.Background(), "TJ123456789"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	assert.ErrorIs(t, store.DeleteOrder(context.Background(), "TJ123456789"), repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package application

import (
	"context"

	"github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
)

type OrderStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error
	FindOwnedOrder(ctx context.Context, id, customerID int64) (domain.Order, error)
	ListOrders(ctx context.Context, q storage.OrderQuery) ([]domain.Order, int64, error)
}

package application

import (
	"context"

	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
)

type PaymentStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error
	FindPayment(ctx context.Context, id int64) (domain.Payment, error)
	FindOrder(ctx context.Context, id int64) (orderdomain.Order, error)
}

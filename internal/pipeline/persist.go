package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/xela07ax/modbridge/internal/domain"
)

// Число попыток обращения к Event Store до признания отказа
const persistAttempts = 3

// retryPersist повторяет операцию хранилища при инфраструктурных отказах
// (PersistenceError): обрыв соединения, failover базы. Нарушения guard-ов
// состояний (ErrInvalidTransition и подобные) не ретраятся — повтор их
// не исправит.
func retryPersist(ctx context.Context, op func() error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(persistAttempts),
		retry.Delay(100*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			var perr *domain.PersistenceError
			return errors.As(err, &perr)
		}),
	)
	return r.Do(op)
}

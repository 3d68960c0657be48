package service

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// ChangeFunc is invoked after a catalog mutation has been committed.
type ChangeFunc func(ctx context.Context)

// storageError passes domain errors through and wraps anything else.
func storageError(err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrStorageError.WithCause(err)
}

// nowMillis is the service clock.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

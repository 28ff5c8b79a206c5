package utils

import (
	"github.com/pkg/errors"

	"github.com/saiset-co/sai-backend/types"
)

// RecoveredError turns a recovered panic value into an error carrying the
// stack of the recovering goroutine.
func RecoveredError(r interface{}) error {
	return errors.WithStack(types.Errorf(types.ErrOperationPanicked, "%v", r))
}

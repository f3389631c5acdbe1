package worker

import (
	"fmt"

	"github.com/go-faster/errors"
)

var ErrInvalidConfig = errors.New("invalid worker configuration")

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}

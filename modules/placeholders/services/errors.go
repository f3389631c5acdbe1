package services

import (
	"fmt"

	"github.com/go-faster/errors"
)

var ErrInvalidConfig = errors.New("invalid placeholder reassignment configuration")

func invalidConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

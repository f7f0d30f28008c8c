// internal/models/errors.go
package models

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks structural failures in a pattern config, such as a
// missing task list or a dependency on an undeclared task id. Match with
// errors.Is.
var ErrInvalidConfig = errors.New("invalid pattern config")

// InvalidConfigError carries the reason text.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid pattern config: %s", e.Reason)
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

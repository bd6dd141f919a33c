package gateway

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var defaultValidate = validator.New(validator.WithRequiredStructEnabled())

func validatorOrDefault(v *validator.Validate) *validator.Validate {
	if v != nil {
		return v
	}
	return defaultValidate
}

// contextLogger prefers the request-scoped logger set by the request logging
// middleware.
func contextLogger(ctx context.Context, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &fallback
}

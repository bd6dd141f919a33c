package main

import (
	"github.com/noah-isme/razorpay-gateway/internal/billing"
	"github.com/noah-isme/razorpay-gateway/internal/config"
	"github.com/noah-isme/razorpay-gateway/internal/obs"
)

func main() {
	cfg := config.MustLoad()
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)

	if err := billing.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("migrations applied")
}

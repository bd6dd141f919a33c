package main

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/noah-isme/razorpay-gateway/internal/security"
)

// gatewayRoutes wires the three Razorpay entry points under one prefix.
type gatewayRoutes struct {
	Webhook  http.HandlerFunc
	Callback http.HandlerFunc
	Orders   http.HandlerFunc

	// Limit throttles browser-facing routes only. Webhooks arrive from a small
	// pool of processor addresses and are deduplicated by the replay guard.
	Limit          func(http.Handler) http.Handler
	MaxWebhookBody int64
	AllowedOrigins []string
}

func (g gatewayRoutes) Mount(r chi.Router) {
	r.Route("/gateway/razorpay", func(gr chi.Router) {
		gr.With(security.BodyLimit{Max: g.MaxWebhookBody}.Middleware).Post("/webhook", g.Webhook)

		gr.Group(func(b chi.Router) {
			if g.Limit != nil {
				b.Use(g.Limit)
			}
			b.Get("/callback", g.Callback)
			b.Post("/callback", g.Callback)
			b.Group(func(c chi.Router) {
				c.Use(cors.Handler(corsOptions(g.AllowedOrigins)))
				c.Post("/orders", g.Orders)
				c.Options("/orders", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
			})
		})
	})
}

// corsOptions admits no cross-origin caller unless origins are configured.
// Credentials are only allowed for an explicit origin list.
func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
	switch {
	case len(origins) == 0:
		// an empty list means "any origin" to go-chi/cors
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	case slices.Contains(origins, "*"):
		opts.AllowedOrigins = []string{"*"}
	default:
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}
	return opts
}

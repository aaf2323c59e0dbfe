package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(requestID, app.recoverPanic, app.logRequest, secureHeaders)
	jsonMiddleware := standardMiddleware.Append(makeResponseJSON)

	mux := pat.New()

	// Purchases
	mux.Post("/iap/verify", jsonMiddleware.ThenFunc(app.iapHandler.Verify))
	mux.Post("/iap/consume", jsonMiddleware.ThenFunc(app.iapHandler.Consume))
	mux.Post("/iap/acknowledge", jsonMiddleware.ThenFunc(app.iapHandler.Acknowledge))

	// Vendor webhooks
	mux.Post("/iap/apple/notifications", jsonMiddleware.ThenFunc(app.iapHandler.AppleNotifications))
	mux.Post("/iap/google/notifications", jsonMiddleware.ThenFunc(app.iapHandler.GoogleNotifications))
	mux.Post("/iap/apple/test-notification", jsonMiddleware.ThenFunc(app.iapHandler.RequestAppleTestNotification))

	mux.Get("/healthz", standardMiddleware.ThenFunc(app.healthz))
	mux.Get("/metrics", promhttp.HandlerFor(app.gatherer, promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
	})
	return c.Handler(mux)
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if app.redis != nil {
		if err := app.redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

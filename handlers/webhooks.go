// Package handlers exposes the HTTP surface: one webhook endpoint per Git
// provider, the dashboard API and the internal workspace callback. Webhook
// handlers are thin adapters that normalize the provider payload into a
// delivery and hand it to the shared ingestion pipeline.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"prebuildd/usecases/ingestion"
)

// DeliveryProcessor is the ingestion pipeline as the handlers see it.
type DeliveryProcessor interface {
	Process(ctx context.Context, delivery *ingestion.Delivery) error
}

// acknowledge answers a webhook delivery. Most outcomes are acknowledged
// with 200 regardless of internal errors, because several providers retry
// aggressively on non-2xx once the event was durably recorded. Failed
// authentication answers unauthorizedStatus, which differs per provider.
func acknowledge(w http.ResponseWriter, err error, unauthorizedStatus int) {
	if errors.Is(err, ingestion.ErrUnauthorized) {
		http.Error(w, "unauthorized", unauthorizedStatus)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("❌ Failed to encode JSON response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, map[string]string{"error": message})
}

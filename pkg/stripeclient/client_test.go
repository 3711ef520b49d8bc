package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestCreateCheckoutSession_SendsFormFields(t *testing.T) {
	var gotForm url.Values
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		gotForm = r.PostForm
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"id": "cs_1", "url": "https://checkout.example/cs_1"})
	}))
	defer server.Close()

	client := NewClient("sk_test_key")
	client.BaseURL = server.URL

	session, err := client.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		Mode:       ModePayment,
		PriceID:    "price_1",
		SuccessURL: "app://success",
		CancelURL:  "app://cancel",
		Metadata:   map[string]string{"userId": "u1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "cs_1" {
		t.Fatalf("unexpected session id: %s", session.ID)
	}

	if gotAuth != "Bearer sk_test_key" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
	if got := gotForm.Get("line_items[0][price]"); got != "price_1" {
		t.Fatalf("unexpected price field: %q", got)
	}
	if got := gotForm.Get("line_items[0][quantity]"); got != "1" {
		t.Fatalf("unexpected quantity field: %q", got)
	}
	if got := gotForm.Get("metadata[userId]"); got != "u1" {
		t.Fatalf("unexpected metadata field: %q", got)
	}
	// Payment mode must not attach subscription metadata.
	if got := gotForm.Get("subscription_data[metadata][userId]"); got != "" {
		t.Fatalf("unexpected subscription metadata in payment mode: %q", got)
	}
}

func TestDo_DecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."},
		})
	}))
	defer server.Close()

	client := NewClient("sk_test_key")
	client.BaseURL = server.URL

	_, err := client.GetCheckoutSession(context.Background(), "cs_1")
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ErrorResponse, got %T: %v", err, err)
	}
	if apiErr.Err.Code != "card_declined" {
		t.Fatalf("unexpected error code: %s", apiErr.Err.Code)
	}
}

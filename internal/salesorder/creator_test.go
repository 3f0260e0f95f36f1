package salesorder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newBridge(t *testing.T, status int, body string) (*httptest.Server, *createRequest, *string) {
	t.Helper()
	var got createRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &auth
}

func TestNewHTTPCreatorDisabledWithoutURL(t *testing.T) {
	c := NewHTTPCreator("  ", "tok", 0, nil)
	if c != nil {
		t.Fatal("expected nil creator")
	}
	if _, err := c.CreateForBooking(context.Background(), "b-1"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestCreateForBookingSuccess(t *testing.T) {
	srv, got, auth := newBridge(t, http.StatusOK, `{"success":true,"data":{"message":"Sales order created","salesOrderId":"SO-1","salesOrderUrl":"https://books.test/SO-1"}}`)
	c := NewHTTPCreator(srv.URL, "secret", 0, nil)

	res, err := c.CreateForBooking(context.Background(), "b-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BookingID != "b-1" {
		t.Fatalf("expected booking id in request, got %q", got.BookingID)
	}
	if *auth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", *auth)
	}
	if !res.Success || res.SalesOrderID != "SO-1" || res.SalesOrderURL != "https://books.test/SO-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AlreadyExists() {
		t.Fatal("did not expect already-exists")
	}
}

func TestCreateForBookingAlreadyExists(t *testing.T) {
	srv, _, _ := newBridge(t, http.StatusOK, `{"success":true,"data":{"message":"Sales order already exists for booking","salesOrderId":"SO-9"}}`)
	c := NewHTTPCreator(srv.URL, "", 0, nil)

	res, err := c.CreateForBooking(context.Background(), "b-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AlreadyExists() {
		t.Fatalf("expected already-exists, got %+v", res)
	}
}

func TestCreateForBookingFailure(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"explicit error", http.StatusOK, `{"success":false,"error":"customer missing"}`, "customer missing"},
		{"server error", http.StatusBadGateway, `{"success":true}`, "sales order bridge returned status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newBridge(t, tt.status, tt.body)
			c := NewHTTPCreator(srv.URL, "", 0, nil)
			res, err := c.CreateForBooking(context.Background(), "b-3")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Success {
				t.Fatal("expected failure result")
			}
			if res.Error != tt.wantErr {
				t.Fatalf("expected error %q, got %q", tt.wantErr, res.Error)
			}
		})
	}
}

func TestCreateForBookingInvalidBody(t *testing.T) {
	srv, _, _ := newBridge(t, http.StatusInternalServerError, `<html>oops</html>`)
	c := NewHTTPCreator(srv.URL, "", 0, nil)
	if _, err := c.CreateForBooking(context.Background(), "b-4"); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

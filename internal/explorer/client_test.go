package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_GetBox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/boxes/box1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"boxId": "box1",
			"transactionId": "tx0",
			"index": 1,
			"value": 1000000000,
			"ergoTree": "0008cd02",
			"assets": [{"tokenId": "tokA", "amount": 12345678901234567890, "decimals": 2}]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL + "/api/v1")
	box, err := client.GetBox(context.Background(), "box1")
	if err != nil {
		t.Fatalf("GetBox: %v", err)
	}

	if box.ID != "box1" || box.TransactionID != "tx0" || box.Index != 1 {
		t.Errorf("unexpected box identity: %+v", box)
	}
	if box.Value != 1000000000 {
		t.Errorf("expected value 1000000000, got %d", box.Value)
	}
	if len(box.Assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(box.Assets))
	}
	if got := box.Assets[0].Amount.String(); got != "12345678901234567890" {
		t.Errorf("expected exact amount, got %s", got)
	}
	if box.Assets[0].Decimals == nil || *box.Assets[0].Decimals != 2 {
		t.Errorf("expected decimals 2, got %v", box.Assets[0].Decimals)
	}
}

func TestClient_GetBox_NotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.GetBox(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("404 must not be retried, got %d calls", calls.Load())
	}
}

func TestClient_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Write([]byte(`{"boxId":"b"}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	box, err := client.GetBox(context.Background(), "b")
	if err != nil {
		t.Fatalf("GetBox: %v", err)
	}
	if box.ID != "b" {
		t.Errorf("expected box b, got %s", box.ID)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	if _, err := client.GetBox(context.Background(), "b"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls.Load())
	}
}

func TestClient_GetTokensByID(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/tokens/byId" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.IDs) != 2 {
			t.Errorf("expected 2 ids, got %v", req.IDs)
		}
		w.Write([]byte(`{"items":[{"id":"tokA","name":"SigUSD","decimals":2,"iconurl":"https://x/sigusd.svg"}]}`))
	}))
	defer tokens.Close()

	client := NewClient("http://unused.invalid", WithTokensURL(tokens.URL))
	got, err := client.GetTokensByID(context.Background(), []string{"tokA", "tokB"})
	if err != nil {
		t.Fatalf("GetTokensByID: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 token, got %d", len(got))
	}
	if got[0].ID != "tokA" || got[0].Decimals != 2 || got[0].IconURL != "https://x/sigusd.svg" {
		t.Errorf("unexpected token: %+v", got[0])
	}
}

func TestClient_GetTokensByID_Empty(t *testing.T) {
	client := NewClient("http://unused.invalid", WithMaxRetries(0))
	got, err := client.GetTokensByID(context.Background(), nil)
	if err != nil || got != nil {
		t.Fatalf("expected no-op, got %v, %v", got, err)
	}
}

func TestClient_GetBlockAtHeight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/blocks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q.Get("limit") != "1" || q.Get("sortBy") != "height" || q.Get("sortDirection") != "asc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("offset") == "99" {
			w.Write([]byte(`{"items":[{"id":"blk","height":100,"timestamp":1700000000000}]}`))
			return
		}
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	blk, err := client.GetBlockAtHeight(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetBlockAtHeight: %v", err)
	}
	if blk == nil || blk.Height != 100 || blk.Timestamp != 1700000000000 {
		t.Errorf("unexpected block %+v", blk)
	}

	blk, err = client.GetBlockAtHeight(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetBlockAtHeight: %v", err)
	}
	if blk != nil {
		t.Errorf("expected nil for unindexed height, got %+v", blk)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GetBox(ctx, "b")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("retry loop ignored context cancellation")
	}
}

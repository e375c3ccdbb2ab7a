package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

type dataError struct {
	msg  string
	data any
}

func (e *dataError) Error() string  { return e.msg }
func (e *dataError) ErrorData() any { return e.data }

var _ gethrpc.DataError = (*dataError)(nil)

func TestRevertData(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   string
		wantOK bool
	}{
		{"hex payload", &dataError{msg: "execution reverted", data: "0x08c379a0"}, "0x08c379a0", true},
		{"wrapped", fmt.Errorf("call: %w", &dataError{msg: "reverted", data: "0xdead"}), "0xdead", true},
		{"non-hex payload", &dataError{msg: "reverted", data: "oops"}, "", false},
		{"non-string payload", &dataError{msg: "reverted", data: 42}, "", false},
		{"plain error", errors.New("boom"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RevertData(tt.err)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("RevertData() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{401, false},
		{500, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			if got := IsRetryableStatus(tt.code); got != tt.want {
				t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("receipt: %w", ethereum.NotFound)) {
		t.Error("wrapped ethereum.NotFound should be detected")
	}
	if IsNotFound(errors.New("not found")) {
		t.Error("plain error should not match")
	}
}

func TestDialChainID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Method != "eth_chainId" {
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x4f3"}`, req.ID)
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	id, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("ChainID() error = %v", err)
	}
	if id.Int64() != 1267 {
		t.Errorf("ChainID() = %s, want 1267", id)
	}
}

func TestHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	_, err = client.ChainID(context.Background())
	if err == nil {
		t.Fatal("expected error from 429 endpoint")
	}
	code, ok := HTTPStatus(err)
	if !ok || code != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus() = (%d, %v), want (429, true)", code, ok)
	}
	if !IsRetryableStatus(code) {
		t.Error("429 should be retryable")
	}
}

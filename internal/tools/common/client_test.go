package common

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIClientSendsBearerAndDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"data":{"tokens":{"accessToken":"a","refreshToken":"` + body["refreshToken"] + `"},"session":{"sessionId":"s1"}}}`))
	}))
	defer srv.Close()

	res, err := NewAPIClient(srv.URL+"/").Do(context.Background(), http.MethodPost, "/auth/refresh", "tok", map[string]string{"refreshToken": "r1"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Status != http.StatusOK || !res.Envelope.Success || res.Envelope.ErrorCode() != "" {
		t.Fatalf("unexpected response %+v", res)
	}
	p, err := res.Tokens()
	if err != nil || p.Tokens.RefreshToken != "r1" || p.Session.SessionID != "s1" {
		t.Fatalf("unexpected payload %+v err=%v", p, err)
	}
}

func TestAPIClientDecodesErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"ACCOUNT_LOCKED","message":"locked"}}`))
	}))
	defer srv.Close()

	res, err := NewAPIClient(srv.URL).Do(context.Background(), http.MethodPost, "/auth/login", "", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Status != http.StatusLocked || res.Envelope.ErrorCode() != "ACCOUNT_LOCKED" {
		t.Fatalf("unexpected response %+v", res)
	}
	if _, err := res.Tokens(); err == nil {
		t.Fatal("error responses carry no tokens")
	}
}

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouter_HealthEndpoints(t *testing.T) {
	relayStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	srv := httptest.NewServer(NewRouter(relayStub))
	defer srv.Close()

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned %d", path, resp.StatusCode)
		}
	}
}

func TestRouter_RelayRouteWired(t *testing.T) {
	var hit bool
	relayStub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(NewRouter(relayStub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/relay")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if !hit {
		t.Error("expected /v1/relay to reach the relay handler")
	}
}

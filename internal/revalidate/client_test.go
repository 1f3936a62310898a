package revalidate_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fraser-stanley/spooky-stock/internal/revalidate"
)

func TestClient_Revalidate(t *testing.T) {
	var gotPaths []string
	var gotSecret string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("x-revalidate-secret")

		var body struct {
			Paths []string `json:"paths"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		gotPaths = body.Paths
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := revalidate.New(server.URL, revalidate.WithSecret("shhh"))

	err := client.Revalidate([]string{"/products", "/products/ghost-stories"})
	if err != nil {
		t.Fatalf("Revalidate() error = %v", err)
	}
	if len(gotPaths) != 2 || gotPaths[0] != "/products" {
		t.Fatalf("server received paths %v", gotPaths)
	}
	if gotSecret != "shhh" {
		t.Fatalf("server received secret %q, want shhh", gotSecret)
	}
}

func TestClient_RevalidateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := revalidate.New(server.URL)
	if err := client.Revalidate([]string{"/products"}); err == nil {
		t.Fatal("Revalidate() with 500 response must fail")
	}
}

func TestClient_RevalidateEmptyPathsIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer server.Close()

	client := revalidate.New(server.URL)
	if err := client.Revalidate(nil); err != nil {
		t.Fatalf("Revalidate(nil) error = %v", err)
	}
	if called {
		t.Fatal("empty path list must not hit the endpoint")
	}
}

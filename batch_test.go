package restcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoAllIndexAligned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(r.URL.Query().Get("code"))
		w.WriteHeader(code)
		w.Write([]byte("body"))
	}))
	defer server.Close()

	client := newTestClient(WithMaxAttempts(1))
	reqs := []*Request{
		{Method: http.MethodGet, URL: server.URL + "?code=200"},
		{Method: http.MethodGet, URL: server.URL + "?code=404"},
		{Method: http.MethodGet, URL: server.URL + "?code=201"},
		{Method: http.MethodGet, URL: server.URL + "?code=500"},
	}

	results := client.DoAll(context.Background(), reqs)

	if len(results.Responses) != 4 || len(results.Errors) != 4 {
		t.Fatalf("result lengths = %d/%d, want 4/4", len(results.Responses), len(results.Errors))
	}

	// Exactly one of response or error at each index.
	for i := range reqs {
		gotResp := results.Responses[i] != nil
		gotErr := results.Errors[i] != nil
		if gotResp == gotErr {
			t.Errorf("index %d: response=%v error=%v, want exactly one", i, gotResp, gotErr)
		}
	}

	if results.Responses[0] == nil || results.Responses[0].StatusCode != 200 {
		t.Errorf("index 0 = %+v, want 200 response", results.Responses[0])
	}
	if results.Responses[2] == nil || results.Responses[2].StatusCode != 201 {
		t.Errorf("index 2 = %+v, want 201 response", results.Responses[2])
	}

	succeeded := results.Succeeded()
	if len(succeeded) != 2 || succeeded[0] != 0 || succeeded[1] != 2 {
		t.Errorf("Succeeded() = %v, want [0 2]", succeeded)
	}
	failed := results.Failed()
	if len(failed) != 2 || failed[0] != 1 || failed[1] != 3 {
		t.Errorf("Failed() = %v, want [1 3]", failed)
	}
	if results.AllSucceeded() {
		t.Error("AllSucceeded() = true, want false")
	}
	if results.FirstError() != results.Errors[1] {
		t.Error("FirstError() did not return the lowest-index error")
	}
}

func TestDoAllAllSucceed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient()
	reqs := []*Request{
		{Method: http.MethodGet, URL: server.URL},
		{Method: http.MethodGet, URL: server.URL},
	}

	results := client.DoAll(context.Background(), reqs)
	if !results.AllSucceeded() {
		t.Errorf("AllSucceeded() = false: %v", results.Errors)
	}
	if results.FirstError() != nil {
		t.Errorf("FirstError() = %v, want nil", results.FirstError())
	}
}

func TestDoAllEmpty(t *testing.T) {
	client := newTestClient()
	results := client.DoAll(context.Background(), nil)

	if len(results.Responses) != 0 || len(results.Errors) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
	if !results.AllSucceeded() {
		t.Error("AllSucceeded() on empty batch = false, want true")
	}
}

func TestDoAllConcurrencyCapped(t *testing.T) {
	const limit = 3
	var inFlight, peak int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(WithConnectionPool(limit))

	reqs := make([]*Request, 12)
	for i := range reqs {
		reqs[i] = &Request{Method: http.MethodGet, URL: server.URL}
	}

	results := client.DoAll(context.Background(), reqs)
	if !results.AllSucceeded() {
		t.Fatalf("batch had failures: %v", results.Errors)
	}
	if got := atomic.LoadInt64(&peak); got > limit {
		t.Errorf("peak concurrent requests = %d, want at most %d", got, limit)
	}
}

func TestDoAllIsolatesFailures(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient()
	results := client.DoAll(context.Background(), []*Request{
		{Method: http.MethodGet, URL: server.URL + "/good"},
		{Method: http.MethodGet, URL: server.URL + "/bad"},
		{Method: http.MethodGet, URL: server.URL + "/good"},
	})

	if results.Errors[1] == nil {
		t.Error("bad request did not fail")
	}
	if results.Responses[0] == nil || results.Responses[2] == nil {
		t.Error("failure of one request affected its neighbors")
	}
}

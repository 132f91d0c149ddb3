package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmguard/worker/internal/task"
)

func TestSendPostsFailureLevelOnFailure(t *testing.T) {
	var got alertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.URL, nil)
	if err := s.Send(context.Background(), task.AlertInfo{AlertGroupID: 7, Title: "t", Content: "c"}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Level != "FAILURE" || got.AlertGroupID != 7 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSendReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	s := New(srv.URL, nil)
	err := s.Send(context.Background(), task.AlertInfo{}, false)
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
)

func candidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{Index: i, Path: fmt.Sprintf("/music/A/Album %d", i), Format: "flac"}
	}
	return out
}

// chatServer fakes the chat completions endpoint, answering with content
func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"nope","type":"server_error"}}`)
			return
		}
		resp := map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   DefaultModel,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIDecision(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"winner_index":1,"rationale":"complete","merge_list":["Polyethylene"]}`)
	tb := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})

	d, err := tb.Evaluate(context.Background(), candidates(2))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.WinnerIndex != 1 || d.Rationale != "complete" || len(d.MergeList) != 1 {
		t.Errorf("decision = %+v", d)
	}
}

func TestOpenAIMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I would keep the first one"},
		{"out of range", `{"winner_index":5,"rationale":"?"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, tt.content)
			g := NewGuard(NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL}), time.Second, 6000)

			_, err := g.Evaluate(context.Background(), "g-1", candidates(2))
			var ae *util.AIError
			if !errors.As(err, &ae) {
				t.Fatalf("expected AIError, got %v", err)
			}
			if ae.Kind != util.AIKindMalformed || ae.Recoverable {
				t.Errorf("kind=%s recoverable=%v", ae.Kind, ae.Recoverable)
			}
		})
	}
}

func TestGuardProviderErrors(t *testing.T) {
	tests := []struct {
		status      int
		kind        util.AIErrorKind
		recoverable bool
	}{
		{http.StatusTooManyRequests, util.AIKindQuota, true},
		{http.StatusBadGateway, util.AIKindProvider, true},
		{http.StatusUnauthorized, util.AIKindProvider, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := chatServer(t, tt.status, "")
			g := NewGuard(NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL}), time.Second, 6000)

			_, err := g.Evaluate(context.Background(), "g-1", candidates(2))
			var ae *util.AIError
			if !errors.As(err, &ae) {
				t.Fatalf("expected AIError, got %v", err)
			}
			if ae.Kind != tt.kind || ae.Recoverable != tt.recoverable {
				t.Errorf("kind=%s recoverable=%v, expected %s/%v", ae.Kind, ae.Recoverable, tt.kind, tt.recoverable)
			}
			if !errors.Is(err, util.ErrAI) {
				t.Error("AIError should unwrap to ErrAI")
			}
		})
	}
}

type blockingTieBreaker struct{}

func (blockingTieBreaker) Evaluate(ctx context.Context, _ []Candidate) (*Decision, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGuardTimeoutIsRecoverable(t *testing.T) {
	g := NewGuard(blockingTieBreaker{}, 20*time.Millisecond, 6000)

	start := time.Now()
	_, err := g.Evaluate(context.Background(), "g-slow", candidates(2))
	if time.Since(start) > time.Second {
		t.Errorf("slow call was not bounded")
	}

	var ae *util.AIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AIError, got %v", err)
	}
	if ae.Kind != util.AIKindTimeout || !ae.Recoverable || ae.GroupKey != "g-slow" {
		t.Errorf("got %+v", ae)
	}
}

func TestGuardParentCancel(t *testing.T) {
	g := NewGuard(blockingTieBreaker{}, time.Second, 6000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Evaluate(ctx, "g-1", candidates(2))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled run should surface context.Canceled, got %v", err)
	}
}

func TestNullDefers(t *testing.T) {
	g := NewGuard(Null{}, time.Second, 6000)
	d, err := g.Evaluate(context.Background(), "g-1", candidates(2))
	if d != nil || !errors.Is(err, util.ErrAIDeferred) {
		t.Errorf("Null should defer, got %v, %v", d, err)
	}
	var ae *util.AIError
	if errors.As(err, &ae) {
		t.Error("deferral is not a failure")
	}
}

func TestResolveMergeList(t *testing.T) {
	pool := []*store.Track{
		{Path: "/b/13.flac", Title: "Polyethylene (Parts 1 & 2)"},
		{Path: "/b/14.flac", Title: "Pearly*"},
		{Path: "/b/15.flac", Title: "Meeting in the Aisle"},
	}

	resolved, unmatched := ResolveMergeList([]string{"pearly", "Polyethylene", "Talk Show Host"}, pool)
	if len(resolved) != 2 || resolved[0].Path != "/b/14.flac" || resolved[1].Path != "/b/13.flac" {
		t.Errorf("resolved = %v", resolved)
	}
	if len(unmatched) != 1 || unmatched[0] != "Talk Show Host" {
		t.Errorf("unmatched = %v", unmatched)
	}

	// The same track is never picked twice
	resolved, _ = ResolveMergeList([]string{"Pearly", "Pearly"}, pool)
	if len(resolved) != 1 {
		t.Errorf("duplicate names resolved to %d tracks", len(resolved))
	}
}

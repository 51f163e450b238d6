package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/dispatch"
)

func TestSingleRequestUnwrapped(t *testing.T) {
	d := dispatch.New(nil)
	d.Handle("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "pong", nil
	})

	out := d.HandleBatch(context.Background(), []byte(`{"id":"1","method":"ping","params":null}`))
	var resps []dispatch.Response
	if err := json.Unmarshal(out, &resps); err != nil {
		t.Fatalf("unmarshal responses: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("unexpected error: %+v", resps[0].Error)
	}
}

func TestBatchArrayRunsConcurrently(t *testing.T) {
	d := dispatch.New(nil)
	d.Handle("slow", func(ctx context.Context, params json.RawMessage) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "slow-done", nil
	})
	d.Handle("fast", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "fast-done", nil
	})

	batch := `[{"id":"1","method":"slow"},{"id":"2","method":"fast"}]`
	start := time.Now()
	out := d.HandleBatch(context.Background(), []byte(batch))
	elapsed := time.Since(start)
	if elapsed > 100*time.Millisecond {
		t.Fatalf("expected concurrent execution, took %v", elapsed)
	}

	var resps []dispatch.Response
	if err := json.Unmarshal(out, &resps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
}

func TestUnknownMethodFailsWithMethodNotFound(t *testing.T) {
	d := dispatch.New(nil)
	out := d.HandleBatch(context.Background(), []byte(`{"id":"1","method":"nope"}`))
	var resps []dispatch.Response
	if err := json.Unmarshal(out, &resps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resps) != 1 || resps[0].Error == nil || resps[0].Error.Code != "METHOD_NOT_FOUND" {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", resps[0])
	}
}

func TestMalformedBatchEchoesPayload(t *testing.T) {
	d := dispatch.New(nil)
	raw := []byte(`{not valid json`)
	out := d.HandleBatch(context.Background(), raw)

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("expected an error envelope, got unparseable output: %v", err)
	}
	if decoded["error"] == nil {
		t.Fatalf("expected error field in malformed-batch response")
	}
	if decoded["payload"] != string(raw) {
		t.Fatalf("expected the original payload echoed back, got %v", decoded["payload"])
	}
}

func TestHandlerErrorMapsToTaxonomyCode(t *testing.T) {
	d := dispatch.New(nil)
	d.Handle("boom", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, cos.NewNotFound("thing missing")
	})
	out := d.HandleBatch(context.Background(), []byte(`{"id":"1","method":"boom"}`))
	var resps []dispatch.Response
	_ = json.Unmarshal(out, &resps)
	if len(resps) != 1 || resps[0].Error == nil || resps[0].Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND code, got %+v", resps[0])
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	events := make(chan any, 8)
	d := dispatch.New(func(subID string, event any) { events <- event })
	d.HandleSubscription("watch", func(ctx context.Context, params json.RawMessage, push func(event any)) error {
		push("hello")
		<-ctx.Done()
		return nil
	})

	out := d.HandleBatch(context.Background(), []byte(`{"id":"sub-1","method":"watch"}`))
	var resps []dispatch.Response
	_ = json.Unmarshal(out, &resps)
	if len(resps) != 1 || resps[0].Error != nil {
		t.Fatalf("unexpected subscription response: %+v", resps)
	}

	select {
	case ev := <-events:
		if ev != "hello" {
			t.Fatalf("unexpected event: %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription push")
	}

	d.Unsubscribe(`"sub-1"`)
}

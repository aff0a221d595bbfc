package capture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakePageEvaluator struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
}

func (f *fakePageEvaluator) EvaluateJSON(ctx context.Context, tabID, js string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakePageEvaluator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScanOnceEmitsFoundPayload(t *testing.T) {
	sink := &recordingSink{}
	eval := &fakePageEvaluator{result: `{"found":true,"url":"https://shop.example/api","status":402,"method":"POST","body":"{\"x402Version\":1}"}`}
	s := NewEmbeddedScanner(sink, nil)
	s.SetEvaluator(eval)

	s.scanOnce(context.Background(), "TAB1", "https://shop.example/cart")

	if len(sink.events) != 1 {
		t.Fatalf("events = %d; want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.URL != "https://shop.example/api" || ev.Method != "POST" || ev.Status != 402 {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Source != SourceEmbedded {
		t.Fatalf("Source = %q; want %q", ev.Source, SourceEmbedded)
	}
	if ev.Body != `{"x402Version":1}` {
		t.Fatalf("Body = %q", ev.Body)
	}
}

func TestScanOnceFallsBackToTabURLAndStatus(t *testing.T) {
	sink := &recordingSink{}
	eval := &fakePageEvaluator{result: `{"found":true,"body":"{}"}`}
	s := NewEmbeddedScanner(sink, nil)
	s.SetEvaluator(eval)

	s.scanOnce(context.Background(), "TAB1", "https://shop.example/cart")

	if len(sink.events) != 1 {
		t.Fatalf("events = %d; want 1", len(sink.events))
	}
	if sink.events[0].URL != "https://shop.example/cart" {
		t.Fatalf("URL = %q; want tab url fallback", sink.events[0].URL)
	}
	if sink.events[0].Status != 402 {
		t.Fatalf("Status = %d; want 402 fallback", sink.events[0].Status)
	}
}

func TestScanOnceSilentWhenNotFound(t *testing.T) {
	sink := &recordingSink{}
	eval := &fakePageEvaluator{result: `{"found":false}`}
	s := NewEmbeddedScanner(sink, nil)
	s.SetEvaluator(eval)

	s.scanOnce(context.Background(), "TAB1", "")
	if len(sink.events) != 0 {
		t.Fatalf("events = %d; want 0", len(sink.events))
	}
}

func TestScanOnceSwallowsEvaluateErrors(t *testing.T) {
	sink := &recordingSink{}
	eval := &fakePageEvaluator{err: fmt.Errorf("tab detached")}
	s := NewEmbeddedScanner(sink, nil)
	s.SetEvaluator(eval)

	s.scanOnce(context.Background(), "TAB1", "")
	if len(sink.events) != 0 {
		t.Fatalf("events = %d; want 0", len(sink.events))
	}
}

func TestScanAfterLoadRunsEachDelay(t *testing.T) {
	sink := &recordingSink{}
	eval := &fakePageEvaluator{result: `{"found":false}`}
	delays := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	s := NewEmbeddedScanner(sink, delays)
	s.SetEvaluator(eval)

	s.ScanAfterLoad(context.Background(), "TAB1", "")

	deadline := time.After(2 * time.Second)
	for eval.callCount() < len(delays) {
		select {
		case <-deadline:
			t.Fatalf("evaluator calls = %d; want %d", eval.callCount(), len(delays))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScanAfterLoadStopsOnContextCancel(t *testing.T) {
	sink := &recordingSink{}
	eval := &fakePageEvaluator{result: `{"found":false}`}
	s := NewEmbeddedScanner(sink, []time.Duration{time.Hour})
	s.SetEvaluator(eval)

	ctx, cancel := context.WithCancel(context.Background())
	s.ScanAfterLoad(ctx, "TAB1", "")
	cancel()

	time.Sleep(20 * time.Millisecond)
	if eval.callCount() != 0 {
		t.Fatalf("evaluator calls = %d; want 0 after cancel", eval.callCount())
	}
}

func TestDefaultScanDelaysAreBoundedAndOrdered(t *testing.T) {
	if len(DefaultScanDelays) == 0 {
		t.Fatal("no default scan delays")
	}
	for i := 1; i < len(DefaultScanDelays); i++ {
		if DefaultScanDelays[i] <= DefaultScanDelays[i-1] {
			t.Fatalf("delays not increasing at %d", i)
		}
	}
}

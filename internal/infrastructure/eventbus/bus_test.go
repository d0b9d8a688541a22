package eventbus

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func drain(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestBus_PublishSubscribeGlobal(t *testing.T) {
	bus := NewBus(16, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe("")
	defer unsub()

	bus.Publish(TypeNewQ4H, "root-1", NewQ4HPayload{DialogID: "d1", Q4HID: "q1"})
	bus.Publish(TypeNewQ4H, "root-2", NewQ4HPayload{DialogID: "d2", Q4HID: "q2"})

	got := drain(t, ch, 2, time.Second)
	if got[0].RootID != "root-1" || got[1].RootID != "root-2" {
		t.Errorf("global subscriber should see every root id, got %+v", got)
	}
}

func TestBus_SubscribeScopedToRoot(t *testing.T) {
	bus := NewBus(16, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe("root-1")
	defer unsub()

	bus.Publish(TypeRunState, "root-2", RunStatePayload{DialogID: "d2"})
	bus.Publish(TypeRunState, "root-1", RunStatePayload{DialogID: "d1"})

	got := drain(t, ch, 1, time.Second)
	if got[0].RootID != "root-1" {
		t.Errorf("scoped subscriber received an event from another root: %+v", got[0])
	}
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus(16, testLogger())
	defer bus.Close()

	ch1, unsub1 := bus.Subscribe("")
	defer unsub1()
	ch2, unsub2 := bus.Subscribe("")
	defer unsub2()

	bus.Publish(TypeLLMRetry, "root-1", nil)

	drain(t, ch1, 1, time.Second)
	drain(t, ch2, 1, time.Second)
}

func TestBus_UnsubscribeSendsEndOfStreamAndCloses(t *testing.T) {
	bus := NewBus(16, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe("")
	unsub()

	ev, ok := <-ch
	if !ok {
		t.Fatal("expected end-of-stream event before channel close")
	}
	if !ev.IsEndOfStream() {
		t.Errorf("expected end-of-stream sentinel, got %+v", ev)
	}

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after end-of-stream")
	}
}

func TestBus_CloseTerminatesAllSubscribers(t *testing.T) {
	bus := NewBus(16, testLogger())
	ch, _ := bus.Subscribe("")

	bus.Close()

	got := drain(t, ch, 1, time.Second)
	if !got[0].IsEndOfStream() {
		t.Errorf("expected end-of-stream on bus close, got %+v", got[0])
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(16, testLogger())
	bus.Close()
	bus.Publish(TypeRunState, "root-1", nil) // must not panic
}

func TestBus_FullSubscriberBufferDropsRatherThanBlocks(t *testing.T) {
	bus := NewBus(1, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe("")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TypeRunState, "root-1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
	<-ch // drain whatever made it through, just to be tidy
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(1000, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe("root-1")
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(TypeRunState, "root-1", nil)
		}()
	}
	wg.Wait()

	drain(t, ch, 100, time.Second)
}

func TestBus_PayloadRoundTrip(t *testing.T) {
	bus := NewBus(16, testLogger())
	defer bus.Close()

	ch, unsub := bus.Subscribe("")
	defer unsub()

	payload := DiligenceBudgetPayload{DialogID: "d1", MaxInjectCount: 3, InjectedCount: 1, RemainingCount: 2}
	bus.Publish(TypeDiligenceBudget, "root-1", payload)

	got := drain(t, ch, 1, time.Second)
	dp, ok := got[0].Payload.(DiligenceBudgetPayload)
	if !ok {
		t.Fatalf("payload type mismatch: %T", got[0].Payload)
	}
	if dp.DialogID != "d1" || dp.RemainingCount != 2 {
		t.Errorf("payload content wrong: %+v", dp)
	}
}

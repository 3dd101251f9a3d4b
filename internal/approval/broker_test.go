package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWait_Approved(t *testing.T) {
	b := NewBroker()

	var wg sync.WaitGroup
	wg.Add(1)
	var dec Decision
	var err error
	go func() {
		defer wg.Done()
		dec, err = b.Wait(context.Background(), Request{RunID: "12-abc1234", Timeout: 5 * time.Second})
	}()

	// Wait until the gate is registered.
	waitPending(t, b, 1)

	if rerr := b.Resolve("12-abc1234", Decision{Approved: true, Approver: "alice", Strategy: "rolling", Backup: true}); rerr != nil {
		t.Fatalf("resolve: %v", rerr)
	}
	wg.Wait()

	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !dec.Approved || dec.Approver != "alice" || dec.Strategy != "rolling" || !dec.Backup {
		t.Errorf("unexpected decision: %+v", dec)
	}
	if len(b.Pending()) != 0 {
		t.Error("gate should be cleared after resolve")
	}
}

func TestWait_Rejected(t *testing.T) {
	b := NewBroker()

	done := make(chan struct{})
	var dec Decision
	var err error
	go func() {
		defer close(done)
		dec, err = b.Wait(context.Background(), Request{RunID: "3-fff0000", Timeout: 5 * time.Second})
	}()
	waitPending(t, b, 1)

	if rerr := b.Resolve("3-fff0000", Decision{Approved: false, Approver: "bob"}); rerr != nil {
		t.Fatalf("resolve: %v", rerr)
	}
	<-done

	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if dec.Approved {
		t.Error("expected rejection")
	}
	if dec.Approver != "bob" {
		t.Errorf("approver = %q", dec.Approver)
	}
}

func TestWait_Timeout(t *testing.T) {
	b := NewBroker()

	_, err := b.Wait(context.Background(), Request{RunID: "1-aaaaaaa", Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("expected ErrTimedOut, got %v", err)
	}
	if len(b.Pending()) != 0 {
		t.Error("gate should be cleared after timeout")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	b := NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitPending(t, b, 1)
		cancel()
	}()

	_, err := b.Wait(ctx, Request{RunID: "2-bbbbbbb", Timeout: 5 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestResolve_NotPending(t *testing.T) {
	b := NewBroker()
	if err := b.Resolve("99-zzzzzzz", Decision{Approved: true}); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestWait_DuplicateGate(t *testing.T) {
	b := NewBroker()

	go b.Wait(context.Background(), Request{RunID: "5-ccccccc", Timeout: time.Second})
	waitPending(t, b, 1)

	_, err := b.Wait(context.Background(), Request{RunID: "5-ccccccc", Timeout: time.Second})
	if !errors.Is(err, ErrAlreadyPending) {
		t.Errorf("expected ErrAlreadyPending, got %v", err)
	}
}

func TestHandler_Fires(t *testing.T) {
	b := NewBroker()

	got := make(chan Request, 1)
	b.SetHandler(func(req Request) {
		got <- req
		b.Resolve(req.RunID, Decision{Approved: true, Approver: "carol"})
	})

	dec, err := b.Wait(context.Background(), Request{RunID: "7-ddddddd", Stage: "deploy-production", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !dec.Approved || dec.Approver != "carol" {
		t.Errorf("unexpected decision: %+v", dec)
	}

	req := <-got
	if req.Stage != "deploy-production" {
		t.Errorf("handler request stage = %q", req.Stage)
	}
}

func waitPending(t *testing.T, b *Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.Pending()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("gate never became pending")
}

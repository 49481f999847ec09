package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBackend struct {
	name  string
	err   error
	delay time.Duration
	plays atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Play(ctx context.Context, clip Clip) error {
	f.plays.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.err
}

func testClip() Clip {
	return Clip{Data: EncodeWAV(sinePCM(160, 1000), 16000, 1), Format: "wav"}
}

func TestPlayerFailsOver(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("boom")}
	secondary := &fakeBackend{name: "secondary"}
	p := NewPlayer(primary, secondary)

	if err := p.Play(context.Background(), testClip()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if primary.plays.Load() != 1 || secondary.plays.Load() != 1 {
		t.Errorf("plays = %d/%d, want 1/1", primary.plays.Load(), secondary.plays.Load())
	}
}

func TestPlayerAllBackendsFail(t *testing.T) {
	a := &fakeBackend{name: "a", err: errors.New("no device")}
	b := &fakeBackend{name: "b", err: errors.New("no binary")}
	p := NewPlayer(a, b)

	if err := p.Play(context.Background(), testClip()); err == nil {
		t.Fatal("expected error when every backend fails")
	}
}

func TestPlayerCancelDoesNotFailOver(t *testing.T) {
	slow := &fakeBackend{name: "slow", delay: time.Second}
	next := &fakeBackend{name: "next"}
	p := NewPlayer(slow, next)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := p.Play(ctx, testClip()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Play error = %v, want context.Canceled", err)
	}
	if next.plays.Load() != 0 {
		t.Error("cancellation must not trigger backend failover")
	}
}

func TestPlayerBusy(t *testing.T) {
	slow := &fakeBackend{name: "slow", delay: 200 * time.Millisecond}
	p := NewPlayer(slow)

	started := make(chan struct{})
	go func() {
		close(started)
		p.Play(context.Background(), testClip()) //nolint:errcheck
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	if err := p.Play(context.Background(), testClip()); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("concurrent Play error = %v, want ErrDeviceBusy", err)
	}
}

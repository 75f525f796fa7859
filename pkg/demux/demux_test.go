package demux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/salesd/pkg/wire"
)

// echoPeer answers every frame with the same tag and payload.
func echoPeer(t *testing.T, c *wire.Conn) {
	t.Helper()
	go func() {
		for {
			f, err := c.Receive()
			if err != nil {
				return
			}
			if err := c.Send(f.Tag, f.Payload); err != nil {
				return
			}
		}
	}()
}

func pair(t *testing.T) (*Demux, *wire.Conn) {
	t.Helper()
	a, b := net.Pipe()
	d := New(wire.NewConn(a))
	peer := wire.NewConn(b)
	t.Cleanup(func() {
		d.Close()
		peer.Close()
	})
	d.Start()
	return d, peer
}

func TestTwoTagsNoCrossTalk(t *testing.T) {
	d, peer := pair(t)
	echoPeer(t, peer)

	const n = 200
	var wg sync.WaitGroup
	for _, tag := range []wire.Tag{wire.TagAddEvent, wire.TagAggVolume} {
		wg.Add(1)
		go func(tag wire.Tag) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				want := fmt.Sprintf("%s-%d", tag, i)
				if err := d.Send(tag, []byte(want)); err != nil {
					t.Errorf("send %s: %v", tag, err)
					return
				}
				got, err := d.Receive(tag)
				if err != nil {
					t.Errorf("receive %s: %v", tag, err)
					return
				}
				if string(got) != want {
					t.Errorf("tag %s got %q, want %q", tag, got, want)
					return
				}
			}
		}(tag)
	}
	wg.Wait()
}

func TestQueuedBeforeReceive(t *testing.T) {
	d, peer := pair(t)
	go func() {
		peer.Send(wire.TagLogin, []byte("first"))
		peer.Send(wire.TagLogin, []byte("second"))
	}()

	got, err := d.Receive(wire.TagLogin)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))
	got, err = d.Receive(wire.TagLogin)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestMultipleReceiversSameTagEachGetOne(t *testing.T) {
	d, peer := pair(t)
	results := make(chan string, 3)
	for i := 0; i < 3; i++ {
		go func() {
			b, err := d.Receive(wire.TagNewDay)
			if err != nil {
				results <- "error"
				return
			}
			results <- string(b)
		}()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, peer.Send(wire.TagNewDay, []byte{byte('a' + i)}))
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[<-results] = true
	}
	require.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}

func TestPeerCloseWakesAllTags(t *testing.T) {
	d, peer := pair(t)
	errs := make(chan error, 2)
	for _, tag := range []wire.Tag{wire.TagSimulSales, wire.TagConsecSales} {
		go func(tag wire.Tag) {
			_, err := d.Receive(tag)
			errs <- err
		}(tag)
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, peer.Close())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrClosed)
			require.ErrorIs(t, err, wire.ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("receiver not released on close")
		}
	}
	<-d.Done()
}

func TestQueuedFramesDrainBeforeClosedError(t *testing.T) {
	d, peer := pair(t)
	require.NoError(t, peer.Send(wire.TagRegister, []byte("ok")))
	require.NoError(t, peer.Close())
	<-d.Done()

	got, err := d.Receive(wire.TagRegister)
	require.NoError(t, err)
	require.Equal(t, "ok", string(got))
	_, err = d.Receive(wire.TagRegister)
	require.ErrorIs(t, err, ErrClosed)
}

func TestReceiveContextTimeout(t *testing.T) {
	d, peer := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.ReceiveContext(ctx, wire.TagAggMax)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A later frame is still delivered to the next receiver.
	go peer.Send(wire.TagAggMax, []byte("late"))
	got, err := d.Receive(wire.TagAggMax)
	require.NoError(t, err)
	require.Equal(t, "late", string(got))
}

func TestCloseIsIdempotent(t *testing.T) {
	d, _ := pair(t)
	require.NoError(t, d.Close())
	err := d.Close()
	require.True(t, err == nil || errors.Is(err, net.ErrClosed))
	_, err = d.Receive(wire.TagLogin)
	require.ErrorIs(t, err, ErrClosed)
	require.Error(t, d.Send(wire.TagLogin, nil))
}

package handler

import (
	"context"
	"net"
	"remote-config/remoteconfig/network"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_DoIsSerialized(t *testing.T) {
	s := newTestSession(t, newFakeTransport())

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(context.Background(), func(x *Exchange) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxRunning, "同時に実行されるやり取りは1つだけ")
}

func TestSession_ReceiveSkipsUnreadablePackets(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, transport)
	from := net.ParseIP("10.0.0.9")

	transport.inbox <- packet{data: nil, addr: nil}
	transport.inbox <- packet{data: []byte{0x01, 0x02, 0x03}, addr: &net.UDPAddr{IP: from}}
	transport.inbox <- packet{data: make([]byte, 16), addr: &net.UDPAddr{IP: from}}
	transport.inbox <- packet{data: []byte("uptime:5s\n\x00\x00"), addr: &net.UDPAddr{IP: from}}

	var text string
	err := s.Do(context.Background(), func(x *Exchange) error {
		var err error
		text, err = x.ReceiveFrom(from, time.Second)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "uptime:5s", text)
}

func TestSession_ReceiveTimeout(t *testing.T) {
	s := newTestSession(t, newFakeTransport())

	err := s.Do(context.Background(), func(x *Exchange) error {
		_, _, err := x.Receive(time.Now().Add(20 * time.Millisecond))
		return err
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSession_Close(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(context.Background(), transport, SessionOptions{ReceiveTimeout: time.Second})

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- s.Do(context.Background(), func(x *Exchange) error {
			close(started)
			_, _, err := x.Receive(time.Now().Add(10 * time.Second))
			return err
		})
	}()
	<-started

	require.NoError(t, s.Close())
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrSessionClosed, "受信待ちは Close で中断される")
	case <-time.After(2 * time.Second):
		t.Fatal("Close しても受信待ちが終わらない")
	}

	transport.mu.Lock()
	assert.True(t, transport.closed)
	transport.mu.Unlock()
	assert.ErrorIs(t, s.Do(context.Background(), func(*Exchange) error { return nil }), ErrSessionClosed)
	assert.NoError(t, s.Close(), "2回目の Close は何もしない")
}

func TestSession_Defaults(t *testing.T) {
	s := NewSession(context.Background(), newFakeTransport(), SessionOptions{})
	defer s.Close()
	assert.True(t, s.BroadcastIP.Equal(net.IPv4bcast))
	assert.Equal(t, time.Second, s.ReceiveTimeout)
}

func getFreePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestCreateSession_Loopback(t *testing.T) {
	port := getFreePort(t)
	loopback := net.IPv4(127, 0, 0, 1)

	s, err := CreateSession(context.Background(), SessionOptions{
		LocalIP:        loopback,
		Port:           port,
		BroadcastIP:    loopback,
		ReceiveTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = CreateSession(context.Background(), SessionOptions{LocalIP: loopback, Port: port})
	assert.Error(t, err, "使用中のポートには bind できない")

	// 自分宛てのブロードキャストは読み飛ばされる
	nodes, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, ok := s.transport.(*network.UDPConnection)
	assert.True(t, ok)
}

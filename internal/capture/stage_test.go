package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/lifecycle"
	"firestige.xyz/dgawatch/internal/queue"
)

type fakeSource struct {
	mu     sync.Mutex
	frames [][]byte
	tail   error // returned once frames are exhausted
	closed bool
	reads  int
}

func (f *fakeSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if len(f.frames) == 0 {
		if f.tail == ErrReadTimeout {
			time.Sleep(time.Millisecond)
		}
		return nil, gopacket.CaptureInfo{}, f.tail
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, nil
}

func (f *fakeSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (f *fakeSource) Stats() (Stats, error) { return Stats{Received: 1}, nil }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestStage_QueuesFramesUntilEOF(t *testing.T) {
	small := bytes.Repeat([]byte{0xaa}, 60)
	large := bytes.Repeat([]byte{0xbb}, 1200)
	src := &fakeSource{frames: [][]byte{small, large}, tail: io.EOF}
	out := queue.NewRing[core.PacketBuffer](8)
	sig := lifecycle.NewSignal(context.Background())

	require.NoError(t, NewStage(src, out, sig, "test0", 0).Run())

	assert.True(t, src.isClosed())
	assert.False(t, sig.Cancelled(), "exhaustion is not a failure")
	require.Equal(t, 2, out.Len())

	first, _ := out.TryPop()
	assert.Equal(t, core.StorageInline, first.Kind())
	assert.Equal(t, small, first.Payload())
	assert.Equal(t, uint32(60), first.Info.CaptureLen)

	second, _ := out.TryPop()
	assert.Equal(t, core.StorageHeap, second.Kind())
	assert.Equal(t, large, second.Payload())
}

func TestStage_DriverErrorCancels(t *testing.T) {
	boom := errors.New("device went away")
	src := &fakeSource{tail: boom}
	sig := lifecycle.NewSignal(context.Background())

	err := NewStage(src, queue.NewRing[core.PacketBuffer](1), sig, "test0", 0).Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCaptureFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, sig.Cancelled())
	assert.ErrorIs(t, sig.Cause(), core.ErrCaptureFailed)
	assert.True(t, src.isClosed())
}

func TestStage_StopsOnSignalWhileIdle(t *testing.T) {
	src := &fakeSource{tail: ErrReadTimeout}
	sig := lifecycle.NewSignal(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- NewStage(src, queue.NewRing[core.PacketBuffer](1), sig, "test0", time.Millisecond).Run()
	}()
	time.Sleep(10 * time.Millisecond)
	sig.Cancel(nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("capture stage ignored the signal")
	}
	assert.True(t, src.isClosed())
}

func TestStage_BlocksOnFullQueueUntilCancelled(t *testing.T) {
	frames := make([][]byte, 5)
	for i := range frames {
		frames[i] = []byte{byte(i)}
	}
	src := &fakeSource{frames: frames, tail: io.EOF}
	out := queue.NewRing[core.PacketBuffer](2)
	sig := lifecycle.NewSignal(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewStage(src, out, sig, "test0", 0).Run() }()

	require.Eventually(t, func() bool { return out.Len() == 2 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("capture dropped frames instead of blocking")
	case <-time.After(20 * time.Millisecond):
	}

	sig.Cancel(nil)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Emplace ignored the signal")
	}
	assert.Equal(t, 2, out.Len(), "no insert after the signal")
}

func TestBufferSizes(t *testing.T) {
	tests := []struct {
		mb   int
		want []int
	}{
		{0, []int{1 * mib}},
		{1, []int{1 * mib}},
		{5, []int{5 * mib, 1 * mib}},
		{6, []int{6 * mib, 1 * mib}},
		{12, []int{12 * mib, 7 * mib, 2 * mib, 1 * mib}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bufferSizes(tt.mb), "configured %d MiB", tt.mb)
	}
}

func TestOpen_UnknownSource(t *testing.T) {
	_, err := Open(configWithSource("netmap"), "eth0")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestOpen_MissingFile(t *testing.T) {
	cfg := configWithSource("file")
	cfg.PcapFile = "/nonexistent/capture.pcap"
	_, err := Open(cfg, "")
	assert.ErrorIs(t, err, core.ErrCaptureFailed)
}

func configWithSource(source string) config.CaptureConfig {
	return config.CaptureConfig{
		Source:   source,
		Snaplen:  65535,
		BufferMB: 1,
		Timeout:  100 * time.Millisecond,
	}
}

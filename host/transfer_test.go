package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softmsc/host/hal"
	"github.com/ardnew/softmsc/pkg"
)

type completion struct {
	n   int
	err error
}

func waitCompletion(t *testing.T, ch <-chan completion) completion {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("transfer did not complete")
		return completion{}
	}
}

func TestTransferManager_BulkSubmit(t *testing.T) {
	m := newMockHAL()
	var gotEndpoint uint8
	var gotLen int
	m.bulk = func(endpoint uint8, data []byte) (int, error) {
		gotEndpoint = endpoint
		gotLen = len(data)
		return len(data), nil
	}

	tm := NewTransferManager(m, 1)
	if err := tm.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tm.Stop()

	tr, err := tm.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	done := make(chan completion, 1)
	tr.Type = hal.TransferBulk
	tr.Endpoint = 0x02
	tr.Length = 31
	tr.UserData = "cbw"
	tr.Callback = func(got *Transfer, n int, err error) {
		if got.UserData != "cbw" {
			t.Errorf("UserData = %v, want cbw", got.UserData)
		}
		done <- completion{n, err}
	}

	id, err := tm.Submit(tr)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id == 0 {
		t.Error("Submit() returned zero id")
	}

	c := waitCompletion(t, done)
	if c.err != nil || c.n != 31 {
		t.Errorf("completion = (%d, %v), want (31, nil)", c.n, c.err)
	}
	if gotEndpoint != 0x02 || gotLen != 31 {
		t.Errorf("HAL saw endpoint 0x%02X length %d, want 0x02 length 31", gotEndpoint, gotLen)
	}
}

func TestTransferManager_ZeroLengthPacket(t *testing.T) {
	m := newMockHAL()
	lengths := make(chan int, 1)
	m.bulk = func(endpoint uint8, data []byte) (int, error) {
		lengths <- len(data)
		return len(data), nil
	}

	tm := NewTransferManager(m, 1)
	tm.Start(context.Background())
	defer tm.Stop()

	tr, _ := tm.Alloc(512)
	tr.Type = hal.TransferBulk
	tr.Endpoint = 0x02
	if _, err := tm.Submit(tr); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	select {
	case n := <-lengths:
		if n != 0 {
			t.Errorf("bulk length = %d, want 0", n)
		}
	case <-time.After(time.Second):
		t.Fatal("transfer did not run")
	}
}

func TestTransferManager_ControlLayout(t *testing.T) {
	m := newMockHAL()
	m.control = func(setup *hal.SetupPacket, data []byte) (int, error) {
		if len(data) != 1 {
			t.Errorf("data stage length = %d, want 1", len(data))
		}
		data[0] = 1
		return 1, nil
	}

	tm := NewTransferManager(m, 1)
	tm.Start(context.Background())
	defer tm.Stop()

	tr, _ := tm.Alloc(64)
	done := make(chan completion, 1)
	tr.Type = hal.TransferControl
	tr.Setup = &hal.SetupPacket{RequestType: 0xA1, Request: 0xFE, Length: 1}
	tr.Callback = func(_ *Transfer, n int, err error) { done <- completion{n, err} }

	if _, err := tm.Submit(tr); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	c := waitCompletion(t, done)
	if c.err != nil || c.n != 9 {
		t.Fatalf("completion = (%d, %v), want (9, nil)", c.n, c.err)
	}
	want := []byte{0xA1, 0xFE, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01}
	for i, b := range want {
		if tr.Data[i] != b {
			t.Errorf("Data[%d] = 0x%02X, want 0x%02X", i, tr.Data[i], b)
		}
	}
}

func TestTransferManager_SubmitBusy(t *testing.T) {
	m := newMockHAL()
	release := make(chan struct{})
	m.bulk = func(endpoint uint8, data []byte) (int, error) {
		<-release
		return len(data), nil
	}

	tm := NewTransferManager(m, 1)
	tm.Start(context.Background())
	defer tm.Stop()

	tr, _ := tm.Alloc(16)
	done := make(chan completion, 1)
	tr.Type = hal.TransferBulk
	tr.Endpoint = 0x81
	tr.Length = 13
	tr.Callback = func(_ *Transfer, n int, err error) { done <- completion{n, err} }

	if _, err := tm.Submit(tr); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !tr.InFlight() {
		t.Error("InFlight() = false after Submit")
	}
	if _, err := tm.Submit(tr); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("resubmit error = %v, want ErrBusy", err)
	}
	if err := tm.Free(tr); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("Free() in flight error = %v, want ErrBusy", err)
	}

	close(release)
	waitCompletion(t, done)

	deadline := time.Now().Add(time.Second)
	for tr.InFlight() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := tm.Submit(tr); err != nil {
		t.Errorf("Submit() after completion error = %v", err)
	}
	waitCompletion(t, done)
}

func TestTransferManager_SubmitNotRunning(t *testing.T) {
	tm := NewTransferManager(newMockHAL(), 1)
	tr, _ := tm.Alloc(8)
	tr.Type = hal.TransferBulk
	if _, err := tm.Submit(tr); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Submit() error = %v, want ErrNotRunning", err)
	}
}

func TestTransferManager_Validate(t *testing.T) {
	tm := NewTransferManager(newMockHAL(), 1)
	tm.Start(context.Background())
	defer tm.Stop()

	tests := []struct {
		name    string
		tr      *Transfer
		wantErr error
	}{
		{"control without setup", &Transfer{Type: hal.TransferControl, Data: make([]byte, 8)}, pkg.ErrInvalidParameter},
		{"control buffer too small", &Transfer{Type: hal.TransferControl, Data: make([]byte, 8), Setup: &hal.SetupPacket{Length: 1}}, pkg.ErrBufferTooSmall},
		{"bulk length exceeds buffer", &Transfer{Type: hal.TransferBulk, Data: make([]byte, 8), Length: 9}, pkg.ErrBufferTooSmall},
		{"interrupt", &Transfer{Type: hal.TransferInterrupt}, pkg.ErrNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tm.Submit(tt.tr); !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if tt.tr.InFlight() {
				t.Error("rejected transfer should not be in flight")
			}
		})
	}
}

func TestTransferManager_AllocLimit(t *testing.T) {
	tm := NewTransferManager(newMockHAL(), 1)

	var last *Transfer
	for i := 0; i < MaxTransfers; i++ {
		tr, err := tm.Alloc(4)
		if err != nil {
			t.Fatalf("Alloc(%d) error = %v", i, err)
		}
		last = tr
	}
	if _, err := tm.Alloc(4); !errors.Is(err, pkg.ErrNoResources) {
		t.Errorf("Alloc() past limit error = %v, want ErrNoResources", err)
	}
	if err := tm.Free(last); err != nil {
		t.Fatalf("Free() error = %v", err)
	}
	if tm.Allocated() != MaxTransfers-1 {
		t.Errorf("Allocated() = %d, want %d", tm.Allocated(), MaxTransfers-1)
	}
	if err := tm.Free(last); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("double Free() error = %v, want ErrInvalidParameter", err)
	}
}

func TestTransferManager_StopCancelsQueued(t *testing.T) {
	m := newMockHAL()
	started := make(chan struct{})
	release := make(chan struct{})
	m.bulk = func(endpoint uint8, data []byte) (int, error) {
		close(started)
		<-release
		return len(data), nil
	}

	tm := NewTransferManager(m, 1)
	tm.Start(context.Background())

	first, _ := tm.Alloc(8)
	first.Type = hal.TransferBulk
	second, _ := tm.Alloc(8)
	second.Type = hal.TransferBulk
	done := make(chan completion, 1)
	second.Callback = func(_ *Transfer, n int, err error) { done <- completion{n, err} }

	tm.Submit(first)
	<-started
	if _, err := tm.Submit(second); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- tm.Stop() }()
	close(release)

	c := waitCompletion(t, done)
	if !errors.Is(c.err, pkg.ErrCancelled) {
		t.Errorf("queued transfer error = %v, want ErrCancelled", c.err)
	}
	if err := <-stopped; err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if tm.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

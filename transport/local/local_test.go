package local

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Algebraic-Programming/DeployR/internal/interfaces"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Instances: 0}); err == nil {
		t.Error("zero instances should be rejected")
	}
	f, err := New(Config{Instances: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if f.Session() == uuid.Nil {
		t.Error("session id should be set")
	}
}

func TestIdentity(t *testing.T) {
	f, _ := New(Config{Instances: 3})
	in := f.Instance(1)

	if in.InstanceID() != 1 {
		t.Errorf("InstanceID() = %d, want 1", in.InstanceID())
	}
	if in.RootID() != 0 {
		t.Errorf("RootID() = %d, want 0", in.RootID())
	}
	ids := in.Instances()
	if len(ids) != 3 || ids[0] != 0 || ids[2] != 2 {
		t.Errorf("Instances() = %v", ids)
	}
}

func TestRequestListen(t *testing.T) {
	f, _ := New(Config{Instances: 2})
	requester, server := f.Instance(0), f.Instance(1)

	go func() {
		call, err := server.Listen()
		if err != nil {
			t.Errorf("listen: %v", err)
			return
		}
		if call.Name() != "ping" || call.Argument() != 7 {
			t.Errorf("got call %q/%d", call.Name(), call.Argument())
		}
		call.Reply([]byte("pong"), nil)
	}()

	if err := requester.RequestRPC(1, "ping", 7); err != nil {
		t.Fatalf("request: %v", err)
	}
	buf, err := requester.ReturnValue(1)
	if err != nil {
		t.Fatalf("return value: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("return value = %q", buf)
	}
	requester.FreeReturnValue(1)

	if _, err := requester.ReturnValue(1); err == nil {
		t.Error("freed return value should not be readable")
	}
}

func TestReply_DecouplesFromServerBuffer(t *testing.T) {
	f, _ := New(Config{Instances: 2})
	requester, server := f.Instance(0), f.Instance(1)

	go func() {
		call, _ := server.Listen()
		payload := []byte("original")
		call.Reply(payload, nil)
		copy(payload, "clobber!")
	}()

	if err := requester.RequestRPC(1, "x", 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	buf, _ := requester.ReturnValue(1)
	if string(buf) != "original" {
		t.Errorf("reply buffer aliased the server's: %q", buf)
	}
}

func TestFence_Barriers(t *testing.T) {
	const n = 4
	f, _ := New(Config{Instances: n})

	var before, after atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			in := f.Instance(rank)
			before.Add(1)
			if err := in.Fence(99); err != nil {
				t.Errorf("fence: %v", err)
				return
			}
			if got := before.Load(); got != n {
				t.Errorf("fence released with %d of %d arrivals", got, n)
			}
			after.Add(1)
		}(i)
	}
	wg.Wait()
	if after.Load() != n {
		t.Errorf("only %d instances passed the fence", after.Load())
	}
}

func TestSlotExchange(t *testing.T) {
	f, _ := New(Config{Instances: 2})
	owner, peer := f.Instance(0), f.Instance(1)

	slot, err := owner.AllocateSlot("DRAM", 32)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if slot.Size() != 32 {
		t.Errorf("slot size = %d", slot.Size())
	}
	if err := owner.ExchangeGlobalSlots(7, map[uint32]interfaces.Slot{5: slot}); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	remote, err := peer.GlobalSlot(7, 5)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := peer.WriteSlot(remote, 4, []byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst := make([]byte, 4)
	if err := owner.ReadSlot(slot, 4, dst); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(dst) != "data" {
		t.Errorf("slot contents = %q", dst)
	}

	if _, err := peer.GlobalSlot(7, 99); err == nil {
		t.Error("unregistered key should fail")
	}
	if err := peer.WriteSlot(remote, 30, []byte("toolong")); err == nil {
		t.Error("out-of-bounds write should fail")
	}
}

func TestLocks_MutualExclusion(t *testing.T) {
	f, _ := New(Config{Instances: 2})

	var inCritical atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			in := f.Instance(rank)
			for k := 0; k < 100; k++ {
				if err := in.AcquireLock(11); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if inCritical.Add(1) != 1 {
					t.Error("two holders inside the critical section")
				}
				inCritical.Add(-1)
				if err := in.ReleaseLock(11); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestAbort_UnblocksListeners(t *testing.T) {
	f, _ := New(Config{Instances: 2})

	errs := make(chan error, 2)
	go func() {
		_, err := f.Instance(0).Listen()
		errs <- err
	}()
	go func() {
		errs <- f.Instance(1).Fence(3)
	}()

	time.Sleep(10 * time.Millisecond)
	f.Instance(0).Abort(42)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != ErrAborted {
			t.Errorf("blocked op returned %v, want ErrAborted", err)
		}
	}
	if f.AbortCode() != 42 {
		t.Errorf("abort code = %d", f.AbortCode())
	}
}

func TestRun_SPMD(t *testing.T) {
	f, _ := New(Config{Instances: 3})

	var ran atomic.Int32
	err := f.Run(func(tr interfaces.Transport) error {
		ran.Add(1)
		return tr.Fence(1)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("fn ran %d times, want 3", ran.Load())
	}
}

func TestBufferPool_RoundTrip(t *testing.T) {
	for _, size := range []int{10, size1k, size4k - 1, size16k, size64k, size64k + 1} {
		buf := getBuffer(size)
		if len(buf) != size {
			t.Errorf("getBuffer(%d) len = %d", size, len(buf))
		}
		putBuffer(buf)
	}
}

package hostctrl

import (
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu       sync.Mutex
	stopped  bool
	done     chan struct{}
	shutdown func()
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{done: make(chan struct{})}
}

func (f *fakeRunner) Serve() error {
	<-f.done
	return nil
}

func (f *fakeRunner) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.done)
	}
	return nil
}

func testFactory(runners *sync.Map) Factory {
	return func(me int, port string, peers map[int]string) (Runner, error) {
		r := newFakeRunner()
		runners.Store(port, r)
		return r, nil
	}
}

func TestStartServerRejectsOutOfBoundsIndex(t *testing.T) {
	var runners sync.Map
	c := New("127.0.0.1", testFactory(&runners))

	err := c.StartServer(5, []string{"127.0.0.1:9000"})
	if err == nil || err.Code != CodeInvalidArgument {
		t.Fatalf("StartServer with out-of-bounds index = %v, want CodeInvalidArgument", err)
	}
}

func TestStartServerRejectsMismatchedAddress(t *testing.T) {
	var runners sync.Map
	c := New("127.0.0.1", testFactory(&runners))

	err := c.StartServer(0, []string{"10.0.0.1:9000"})
	if err == nil || err.Code != CodeInvalidArgument {
		t.Fatalf("StartServer with mismatched address = %v, want CodeInvalidArgument", err)
	}
}

func TestStartServerThenDuplicateFails(t *testing.T) {
	var runners sync.Map
	c := New("127.0.0.1", testFactory(&runners))
	peers := []string{"127.0.0.1:9001"}

	if err := c.StartServer(0, peers); err != nil {
		t.Fatalf("first StartServer failed: %v", err)
	}

	err := c.StartServer(0, peers)
	if err == nil || err.Code != CodeAlreadyExists {
		t.Fatalf("second StartServer = %v, want CodeAlreadyExists", err)
	}
}

func TestStopServerNotFound(t *testing.T) {
	var runners sync.Map
	c := New("127.0.0.1", testFactory(&runners))

	err := c.StopServer("127.0.0.1:9999")
	if err == nil || err.Code != CodeNotFound {
		t.Fatalf("StopServer on unknown port = %v, want CodeNotFound", err)
	}
}

func TestStartStopServerLifecycle(t *testing.T) {
	var runners sync.Map
	c := New("127.0.0.1", testFactory(&runners))
	peers := []string{"127.0.0.1:9002"}

	if err := c.StartServer(0, peers); err != nil {
		t.Fatalf("StartServer: %v", err)
	}

	waitForRunning(t, c)
	all := c.GetAll()
	if len(all) != 1 || all[0] != "127.0.0.1:9002" {
		t.Fatalf("GetAll = %v, want [127.0.0.1:9002]", all)
	}

	if err := c.StopServer("127.0.0.1:9002"); err != nil {
		t.Fatalf("StopServer: %v", err)
	}
	if len(c.GetAll()) != 0 {
		t.Fatalf("GetAll after StopServer = %v, want empty", c.GetAll())
	}
}

func TestKillAllStopsEverything(t *testing.T) {
	var runners sync.Map
	c := New("127.0.0.1", testFactory(&runners))

	c.StartServer(0, []string{"127.0.0.1:9003", "127.0.0.1:9004"})
	c.StartServer(1, []string{"127.0.0.1:9003", "127.0.0.1:9004"})
	waitForRunning(t, c)

	c.KillAll()
	if len(c.GetAll()) != 0 {
		t.Fatalf("GetAll after KillAll = %v, want empty", c.GetAll())
	}
}

func waitForRunning(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(c.GetAll()) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

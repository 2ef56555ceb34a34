package cmd

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/client/internal/coordinator"
	"github.com/rpi-update-ota/ota-agent/client/internal/observer"
	"github.com/rpi-update-ota/ota-agent/client/internal/session"
)

var (
	errDownloadRejected    = errors.New("download rejected by the update service")
	errDownloadInterrupted = errors.New("download interrupted")
)

type submitter interface {
	Submit(op coordinator.Operation) bool
}

// passResult is the outcome of one chain of operations
type passResult struct {
	Connected  bool
	Check      session.CheckResult
	Checked    bool
	Downloaded bool
	Err        error
}

// flow chains the operations of a command. It submits the next operation when the
// coordinator reports it is idle again, so it never competes with itself for the busy flag.
type flow struct {
	observer.Nop

	coord    submitter
	download bool

	mu      sync.Mutex
	next    *coordinator.Operation
	result  passResult
	running bool
	done    chan passResult
}

func newFlow(download bool) *flow {
	return &flow{download: download}
}

// start submits op and returns a channel receiving the result of the whole chain
func (f *flow) start(op coordinator.Operation) <-chan passResult {
	done := make(chan passResult, 1)

	f.mu.Lock()
	connected := f.result.Connected
	f.result = passResult{Connected: connected}
	f.next = nil
	f.running = true
	f.done = done
	f.mu.Unlock()

	if !f.coord.Submit(op) {
		f.finish(fmt.Errorf("%s rejected, another operation is running", op))
	}
	return done
}

func (f *flow) connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result.Connected
}

func (f *flow) schedule(op coordinator.Operation) {
	f.mu.Lock()
	f.next = &op
	f.mu.Unlock()
}

func (f *flow) fail(err error) {
	f.mu.Lock()
	f.result.Err = err
	f.next = nil
	f.mu.Unlock()
}

func (f *flow) finish(err error) {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	if err != nil && f.result.Err == nil {
		f.result.Err = err
	}
	res := f.result
	done := f.done
	f.running = false
	f.next = nil
	f.mu.Unlock()

	done <- res
}

func (f *flow) OnServerConnected(connected bool) {
	f.mu.Lock()
	f.result.Connected = connected
	f.mu.Unlock()
	if connected {
		f.schedule(coordinator.CheckForUpdate)
	}
}

func (f *flow) OnUpdateCheckDone(result session.CheckResult) {
	f.mu.Lock()
	f.result.Check = result
	f.result.Checked = true
	f.mu.Unlock()

	if f.download && result == session.CheckAvailable {
		f.schedule(coordinator.StartDownload)
	}
}

func (f *flow) OnDownloadRejected() {
	f.fail(errDownloadRejected)
}

func (f *flow) OnDownloadFinished(ok bool) {
	if !ok {
		f.fail(errDownloadInterrupted)
		return
	}
	f.mu.Lock()
	f.result.Downloaded = true
	f.mu.Unlock()
}

func (f *flow) OnError(message string) {
	f.fail(errors.New(message))
}

func (f *flow) OnBusy(busy bool) {
	if busy {
		return
	}

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	next := f.next
	f.next = nil
	f.mu.Unlock()

	if next == nil {
		f.finish(nil)
		return
	}

	log.Debugf("continuing with %s", *next)
	if !f.coord.Submit(*next) {
		f.finish(fmt.Errorf("%s rejected, another operation is running", *next))
	}
}

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rpi-update-ota/ota-agent/shared/filetransfer/client"
)

const mebibyte = 1024 * 1024

var (
	// ErrNotReady is returned when the connection to the service is missing or not live
	ErrNotReady = errors.New("service not available")
	// ErrRejected is returned when a download can not be started
	ErrRejected = errors.New("download rejected")
	// ErrIOFailure is returned when the output file can not be opened or written
	ErrIOFailure = errors.New("output file failure")
	// ErrNoSession is returned when a chunk arrives outside of an active download session
	ErrNoSession = errors.New("no active download session")
)

// CallFailedError is returned when the version query did not complete with a success status
type CallFailedError struct {
	Status client.CallStatus
	Err    error
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("requestUpdate() failed - call status: %d", int(e.Status))
}

func (e *CallFailedError) Unwrap() error {
	return e.Err
}

// Descriptor is the answer of the service to a version query
type Descriptor struct {
	Size       uint64
	IsNew      bool
	ResultCode int32
}

// CheckResult classifies a Descriptor
type CheckResult int

const (
	CheckError CheckResult = iota
	CheckUpToDate
	CheckAvailable
)

func (c CheckResult) String() string {
	switch c {
	case CheckUpToDate:
		return "UP_TO_DATE"
	case CheckAvailable:
		return "AVAILABLE"
	default:
		return "ERROR"
	}
}

// Classify is a pure function of the descriptor
func Classify(d Descriptor) CheckResult {
	switch {
	case d.Size == 0 || d.ResultCode != 0:
		return CheckError
	case !d.IsNew:
		return CheckUpToDate
	default:
		return CheckAvailable
	}
}

// Result of a version query. Check is computed once from Descriptor.
type Result struct {
	Descriptor Descriptor
	Check      CheckResult
}

// State of a download session
type State int

const (
	StateIdle State = iota
	StateRequested
	StateTransferring
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StateTransferring:
		return "Transferring"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Idle"
	}
}

// Progress is an immutable view of a download session handed out after every chunk
type Progress struct {
	Percent   uint8
	SpeedMbps float64
	// Received is the number of chunks received so far
	Received uint32
	// Total is the number of chunks the image is made of
	Total        uint32
	BytesWritten uint64
	State        State
}

// TransferState is the mutable accounting of one download session
type TransferState struct {
	BytesExpected uint64
	ChunkSize     uint64
	LastIndex     uint32
	HasIndex      bool
	BytesWritten  uint64
	// StartTime is the reference for the throughput, zero until the first chunk
	StartTime time.Time
	Percent   uint8
	SpeedMbps float64
}

func newTransferState(expected, chunkSize uint64) TransferState {
	return TransferState{
		BytesExpected: expected,
		ChunkSize:     chunkSize,
	}
}

// observe updates percent and throughput for chunk index
func (t *TransferState) observe(index uint32, size int, last bool, now time.Time) {
	t.LastIndex = index
	t.HasIndex = true
	t.BytesWritten += uint64(size)

	if t.BytesExpected > 0 {
		percent := uint64(index) * t.ChunkSize * 100 / t.BytesExpected
		if last && (uint64(index)+1)*t.ChunkSize >= t.BytesExpected {
			percent = 100
		}
		if percent > 100 {
			percent = 100
		}
		if uint8(percent) > t.Percent {
			t.Percent = uint8(percent)
		}
	}

	// no rate before the first progress, the elapsed time would be close to zero
	if t.StartTime.IsZero() || t.Percent == 0 {
		t.StartTime = now
		return
	}

	elapsed := now.Sub(t.StartTime).Seconds()
	if elapsed <= 0 {
		return
	}
	t.SpeedMbps = (float64(t.Percent) / 100 * float64(t.BytesExpected) / mebibyte) / elapsed
}

// totalChunks is recomputed on every chunk, it only depends on the descriptor
func (t *TransferState) totalChunks() uint32 {
	if t.ChunkSize == 0 {
		return 0
	}
	return uint32((t.BytesExpected + t.ChunkSize - 1) / t.ChunkSize)
}

func (t *TransferState) received() uint32 {
	if !t.HasIndex {
		return 0
	}
	return t.LastIndex + 1
}

package can

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"can-channel-server/internal/driver"
	"can-channel-server/internal/models"
)

const (
	// BufferCapacity bounds the shared capture buffer; the oldest entry is
	// evicted when a new message arrives at capacity.
	BufferCapacity = 100

	// pollTimeout keeps the capture loop responsive to cancellation. It is
	// not a correctness timeout: an empty poll just means no frame arrived.
	pollTimeout = 100 * time.Millisecond

	// errorBackoff avoids a tight spin when the driver reports repeated
	// polling errors.
	errorBackoff = 100 * time.Millisecond

	// captureBitrate is the fixed bus rate a capture session listens at.
	captureBitrate = driver.Bitrate250K
)

// Status is a read-only snapshot of the registry.
type Status struct {
	Active      bool
	StoredCount int
	Capacity    int
}

// Registry owns the process-wide capture state: the single active capture
// session and the bounded message buffer. All fields are guarded by one
// mutex; the capture goroutine is the only writer of the buffer while
// status and message queries read it concurrently.
type Registry struct {
	drv driver.Driver

	mu       sync.Mutex
	active   bool // a capture goroutine exists (until it fully exits)
	stopping bool // cancellation requested, goroutine still winding down
	cancel   chan struct{}
	done     chan struct{}
	messages []models.CapturedMessage
}

// NewRegistry creates a registry over the given driver.
func NewRegistry(drv driver.Driver) *Registry {
	return &Registry{drv: drv}
}

// Start clears the buffer and launches a capture session on the channel for
// the given duration. It fails with ErrAlreadyActive, without side effects,
// while a session is running. The check and the active transition happen
// under one lock so two concurrent starts cannot both pass.
func (r *Registry) Start(channel, durationSeconds int) error {
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidInput, durationSeconds)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyActive
	}
	r.active = true
	r.stopping = false
	r.messages = nil
	r.cancel = make(chan struct{})
	r.done = make(chan struct{})
	go r.capture(channel, time.Duration(durationSeconds)*time.Second, r.cancel, r.done)
	return nil
}

// Stop requests cancellation of the running capture session. It reports
// whether a session was active; repeated calls report false. The loop
// observes the flag within one poll interval and then runs its bus-off,
// close and flag-clear sequence.
func (r *Registry) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.stopping {
		return false
	}
	r.stopping = true
	close(r.cancel)
	return true
}

// Status returns the current snapshot. A session that has been told to stop
// reports inactive even while its goroutine finishes cleanup.
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Active:      r.active && !r.stopping,
		StoredCount: len(r.messages),
		Capacity:    BufferCapacity,
	}
}

// Messages returns a copy of the buffer, oldest first. It never drains or
// mutates the buffer.
func (r *Registry) Messages() []models.CapturedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CapturedMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Join blocks until the current capture session has fully exited, or ctx is
// done. Used on shutdown so the capture goroutine is never leaked.
func (r *Registry) Join(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capture is the background session: open, configure, listen until the
// duration elapses or cancellation is observed, then release the channel
// and clear the active flag.
func (r *Registry) capture(channel int, duration time.Duration, cancel <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer r.finish(channel)

	sess, err := OpenSession(r.drv, channel)
	if err != nil {
		log.Printf("Error in CAN monitoring: %v", err)
		return
	}
	defer sess.Release()

	if err := sess.Configure(captureBitrate, driver.ModeNormal); err != nil {
		log.Printf("Error in CAN monitoring: %v", err)
		return
	}
	if err := sess.AcceptAll(); err != nil {
		log.Printf("Error in CAN monitoring: %v", err)
		return
	}
	if err := sess.BusOn(); err != nil {
		log.Printf("Error in CAN monitoring: %v", err)
		return
	}

	log.Printf("Starting CAN monitoring on channel %d for %v", channel, duration)
	deadline := time.Now().Add(duration)

	for {
		select {
		case <-cancel:
			return
		default:
		}
		if !time.Now().Before(deadline) {
			return
		}

		frame, err := sess.ReadWait(pollTimeout)
		if err != nil {
			if driver.IsNoMessage(err) {
				continue
			}
			log.Printf("CAN error during monitoring: %v", err)
			select {
			case <-cancel:
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		if frame.Flags&models.FlagErrorFrame != 0 {
			log.Printf("Error frame received: ID=%d, Flags=%s", frame.ID, frame.Flags)
			continue
		}

		data := make([]uint8, frame.DLC)
		copy(data, frame.Data[:frame.DLC])
		r.append(models.CapturedMessage{
			Timestamp: time.Now(),
			Channel:   channel,
			CANID:     frame.ID,
			Data:      data,
			DLC:       frame.DLC,
			Flags:     frame.Flags.String(),
		})
		log.Printf("Received message: ID=%d, Data=%v", frame.ID, data)
	}
}

// append stores a message, evicting the oldest entry at capacity.
func (r *Registry) append(msg models.CapturedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	if len(r.messages) > BufferCapacity {
		r.messages = r.messages[1:]
	}
}

func (r *Registry) finish(channel int) {
	r.mu.Lock()
	r.active = false
	r.stopping = false
	r.mu.Unlock()
	log.Printf("CAN monitoring stopped on channel %d", channel)
}

package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/location-coordinator/model"
)

// Mode says how the result of an attempt is delivered.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Attempt is the driver's view of one acquisition attempt. It is
// immutable once the handle has been claimed.
type Attempt struct {
	ID        string
	Handle    model.ModuleHandle
	Requested model.LocationType
	Mechanism model.LocationType
	Assist    model.Assist
	AuthToken string
	Started   time.Time
}

// ActiveRequest is the registry entry for the single in-flight attempt on
// a handle.
type ActiveRequest struct {
	Attempt
	Mode Mode

	callback Callback

	// guarded by the owning slot's mutex
	canceled   bool
	delivering bool

	stop chan struct{} // closed by Cancel
	done chan struct{} // closed by Release
}

func newActiveRequest(a Attempt, mode Mode, cb Callback) *ActiveRequest {
	return &ActiveRequest{
		Attempt:  a,
		Mode:     mode,
		callback: cb,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// handleSlot holds the per-handle state. mu serialises claim, release,
// cancel and status writes; reads of status are lock-free.
type handleSlot struct {
	mu     sync.Mutex
	active *ActiveRequest
	status atomic.Int32
}

func (s *handleSlot) loadStatus() model.LocationStatus {
	return model.LocationStatus(s.status.Load())
}

func (s *handleSlot) storeStatus(st model.LocationStatus) {
	s.status.Store(int32(st))
}

// Registry tracks at most one ActiveRequest and one status value per
// module handle. Slots are created on first claim and kept for the life
// of the registry, so unrelated handles never contend.
type Registry struct {
	slots  sync.Map // model.ModuleHandle -> *handleSlot
	active atomic.Int64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) slot(h model.ModuleHandle) *handleSlot {
	if v, ok := r.slots.Load(h); ok {
		return v.(*handleSlot)
	}
	v, _ := r.slots.LoadOrStore(h, &handleSlot{})
	return v.(*handleSlot)
}

func (r *Registry) lookup(h model.ModuleHandle) *handleSlot {
	if v, ok := r.slots.Load(h); ok {
		return v.(*handleSlot)
	}
	return nil
}

// Claim stores req as the handle's active request and resets its status
// to UNKNOWN. It fails with ErrBusy if the handle already has one.
func (r *Registry) Claim(req *ActiveRequest) error {
	s := r.slot(req.Handle)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return ErrBusy
	}
	s.active = req
	s.storeStatus(model.StatusUnknown)
	r.active.Add(1)
	return nil
}

// Release removes req if it is still the handle's active request. The
// status is left as last observed. It reports whether req had been
// canceled; a canceled request must not deliver a result.
func (r *Registry) Release(req *ActiveRequest) (canceled bool) {
	s := r.lookup(req.Handle)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	canceled = req.canceled
	if s.active == req {
		s.active = nil
		r.active.Add(-1)
		close(req.done)
	}
	return canceled
}

// BeginDelivery commits req to delivering its result. It fails if req
// was canceled or is no longer the handle's active request. Once it
// succeeds, Cancel leaves req alone.
func (r *Registry) BeginDelivery(req *ActiveRequest) bool {
	s := r.lookup(req.Handle)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != req || req.canceled {
		return false
	}
	req.delivering = true
	return true
}

// SetStatus records st for the handle if req is still active and has not
// been canceled. It reports whether the write happened.
func (r *Registry) SetStatus(req *ActiveRequest, st model.LocationStatus) bool {
	s := r.lookup(req.Handle)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != req || req.canceled {
		return false
	}
	s.storeStatus(st)
	return true
}

// Cancel marks the handle's active async request canceled, wakes its
// worker and resets the status to UNKNOWN. Sync requests, idle handles
// and requests already delivering are left alone. It returns the
// canceled request, or nil.
func (r *Registry) Cancel(h model.ModuleHandle) *ActiveRequest {
	s := r.lookup(h)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.active
	if req == nil || req.Mode != ModeAsync || req.canceled || req.delivering {
		return nil
	}
	req.canceled = true
	close(req.stop)
	s.storeStatus(model.StatusUnknown)
	return req
}

// Status returns the handle's current status without blocking.
func (r *Registry) Status(h model.ModuleHandle) model.LocationStatus {
	s := r.lookup(h)
	if s == nil {
		return model.StatusUnknown
	}
	return s.loadStatus()
}

// Active returns the handle's active request, or nil.
func (r *Registry) Active(h model.ModuleHandle) *ActiveRequest {
	s := r.lookup(h)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveAsync returns every active async request.
func (r *Registry) ActiveAsync() []*ActiveRequest {
	var out []*ActiveRequest
	r.slots.Range(func(_, v any) bool {
		s := v.(*handleSlot)
		s.mu.Lock()
		if s.active != nil && s.active.Mode == ModeAsync {
			out = append(out, s.active)
		}
		s.mu.Unlock()
		return true
	})
	return out
}

// ActiveCount returns the number of in-flight attempts.
func (r *Registry) ActiveCount() int {
	return int(r.active.Load())
}

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowerhub-tryon/internal/catalog"
	"flowerhub-tryon/internal/tryon"
)

// ErrSuperseded means the attempt settled after a reset or after its photo or
// garland changed; its outcome was dropped.
var (
	ErrNotReady   = errors.New("a photo and a garland are required")
	ErrBusy       = errors.New("a try-on is already in progress")
	ErrSuperseded = errors.New("the try-on was superseded")
)

const (
	msgNoImage     = "The design engine returned no image. Please try another photo."
	msgErrorPrefix = "Botanical AI error: "
)

// State is the visible try-on state of one visitor.
type State struct {
	UserPhoto    string
	SelectedItem *catalog.Item
	ResultImage  string
	IsProcessing bool
	Error        string
	UpdatedAt    time.Time
}

func (s State) CanGenerate() bool {
	return s.UserPhoto != "" && s.SelectedItem != nil && !s.IsProcessing
}

func (s State) clone() State {
	if s.SelectedItem != nil {
		item := *s.SelectedItem
		s.SelectedItem = &item
	}
	return s
}

// Attempt identifies one generation; settling with a stale Attempt is ignored.
type Attempt uint64

type Observer func(State)

// attemptInputs are what the in-flight attempt was started with.
type attemptInputs struct {
	itemID string
	photo  string
}

func (in attemptInputs) match(st State) bool {
	return st.SelectedItem != nil && st.SelectedItem.ID == in.itemID && st.UserPhoto == in.photo
}

type Runner interface {
	Run(ctx context.Context, userPhoto, referenceURL string) (string, error)
}

// Controller owns one State. All writes go through its methods and every change
// is pushed to observers in order. Observers must not call back into mutating
// methods synchronously.
type Controller struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	state     State
	current   Attempt
	inputs    attemptInputs
	seq       uint64
	observers map[int]Observer
	nextObs   int
	touched   time.Time
}

func NewController() *Controller {
	now := time.Now()
	return &Controller{
		state:     State{UpdatedAt: now},
		observers: make(map[int]Observer),
		touched:   now,
	}
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = time.Now()
	return c.state.clone()
}

// Subscribe registers fn and returns a function that removes it.
func (c *Controller) Subscribe(fn Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// SelectItem clears any previous result: a result always belongs to the garland
// currently selected.
func (c *Controller) SelectItem(item catalog.Item) State {
	return c.update(func(st *State) bool {
		st.SelectedItem = &item
		st.ResultImage = ""
		return true
	})
}

func (c *Controller) SetUserPhoto(photo string) State {
	return c.update(func(st *State) bool {
		st.UserPhoto = photo
		st.ResultImage = ""
		st.Error = ""
		return true
	})
}

// Reset returns to the initial state and orphans any in-flight attempt.
func (c *Controller) Reset() State {
	return c.update(func(st *State) bool {
		*st = State{}
		c.current = 0
		return true
	})
}

// BeginGeneration is a no-op returning false unless a photo and a garland are
// set and nothing is in flight.
func (c *Controller) BeginGeneration() (Attempt, bool) {
	a, _, _, err := c.begin()
	return a, err == nil
}

func (c *Controller) CompleteGeneration(a Attempt, resultImage string) bool {
	return c.settle(a, func(st *State) {
		st.ResultImage = resultImage
	})
}

func (c *Controller) FailGeneration(a Attempt, message string) bool {
	return c.settle(a, func(st *State) {
		st.Error = message
	})
}

// Generate runs one full cycle: guard, adapter call, settle. The returned error
// is ErrNotReady or ErrBusy when the guard rejects, ErrSuperseded when the
// outcome was dropped, otherwise the adapter error (already recorded in
// State.Error).
func (c *Controller) Generate(ctx context.Context, runner Runner) (State, error) {
	a, photo, referenceURL, err := c.begin()
	if err != nil {
		return c.Snapshot(), err
	}

	result, err := runner.Run(ctx, photo, referenceURL)
	if err != nil {
		if !c.FailGeneration(a, FailureMessage(err)) {
			return c.Snapshot(), ErrSuperseded
		}
		return c.Snapshot(), err
	}

	if !c.CompleteGeneration(a, result) {
		return c.Snapshot(), ErrSuperseded
	}
	return c.Snapshot(), nil
}

// FailureMessage turns an adapter error into the short text shown to the user.
func FailureMessage(err error) string {
	if errors.Is(err, tryon.ErrNoImage) {
		return msgNoImage
	}
	return msgErrorPrefix + err.Error()
}

func (c *Controller) begin() (Attempt, string, string, error) {
	var (
		a            Attempt
		photo        string
		referenceURL string
		err          error
	)
	c.update(func(st *State) bool {
		switch {
		case st.IsProcessing:
			err = ErrBusy
			return false
		case st.UserPhoto == "" || st.SelectedItem == nil:
			err = ErrNotReady
			return false
		}

		c.seq++
		c.current = Attempt(c.seq)
		c.inputs = attemptInputs{itemID: st.SelectedItem.ID, photo: st.UserPhoto}
		a = c.current
		photo = st.UserPhoto
		referenceURL = st.SelectedItem.ImageURL

		st.IsProcessing = true
		st.Error = ""
		st.ResultImage = ""
		return true
	})
	return a, photo, referenceURL, err
}

func (c *Controller) settle(a Attempt, fn func(*State)) bool {
	applied := false
	c.update(func(st *State) bool {
		if a == 0 || a != c.current || !st.IsProcessing {
			return false
		}
		c.current = 0
		st.IsProcessing = false
		if !c.inputs.match(*st) {
			return true
		}
		fn(st)
		applied = true
		return true
	})
	return applied
}

// update applies fn under the lock. When fn reports a change, observers are
// called with the new snapshot before update returns.
func (c *Controller) update(fn func(*State) bool) State {
	c.mu.Lock()
	c.touched = time.Now()
	if !fn(&c.state) {
		snap := c.state.clone()
		c.mu.Unlock()
		return snap
	}

	c.state.UpdatedAt = time.Now()
	snap := c.state.clone()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, o := range observers {
		o(snap.clone())
	}
	return snap
}

// idleSince reports when the controller was last used and whether it is pinned:
// a generation is in flight or someone is still subscribed.
func (c *Controller) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched, c.state.IsProcessing || len(c.observers) > 0
}

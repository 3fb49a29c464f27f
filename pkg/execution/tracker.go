package execution

import (
	"fmt"
	"sync"
)

// Tracker maps wire-level request ids to the request awaiting their replies.
// It is shared by all units of one session and by the session's broadcast
// demultiplexer. Entries live from admission until the owning unit reaches a
// terminal state; nothing persists across sessions.
type Tracker struct {
	mu   sync.Mutex
	byID map[string]*Request
}

func NewTracker() *Tracker {
	return &Tracker{byID: make(map[string]*Request)}
}

// Register binds a request id to its request. Registering an id twice is an
// id-generation bug and fails with ErrDuplicateRequestID.
func (t *Tracker) Register(request *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byID[request.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, request.ID)
	}

	t.byID[request.ID] = request

	return nil
}

// Resolve looks up the request expecting the given id. Unknown ids are
// normal session-level traffic and simply report not found.
func (t *Tracker) Resolve(requestID string) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, ok := t.byID[requestID]

	return request, ok
}

// Unregister removes an entry. Idempotent.
func (t *Tracker) Unregister(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.byID, requestID)
}

// Len reports the number of tracked requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byID)
}

// FailAll completes every tracked request with the given result and clears
// the tracker. Requests already terminal are unaffected; completion is first
// writer wins.
func (t *Tracker) FailAll(res Result) {
	t.mu.Lock()
	tracked := make([]*Request, 0, len(t.byID))

	for _, request := range t.byID {
		tracked = append(tracked, request)
	}

	t.byID = make(map[string]*Request)
	t.mu.Unlock()

	for _, request := range tracked {
		request.Complete(res)
	}
}

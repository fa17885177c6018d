package bridge

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/scenelink/scenelink/pkg/scene"
)

// Result is the settlement of one in-flight state query: either a raw
// state payload or an error, never both.
type Result struct {
	State json.RawMessage
	Err   error
}

// pendingQuery is the bookkeeping record for one outstanding state request.
type pendingQuery struct {
	sessionID string
	ch        chan Result
	timer     *time.Timer
}

// PendingTable correlates outstanding state queries with their eventual
// responses by request id. Every entry settles exactly once: matching
// response, error response, timeout, or owning-session disconnect,
// whichever comes first. Safe for concurrent use.
type PendingTable struct {
	mu      sync.Mutex
	queries map[string]*pendingQuery
	logger  *slog.Logger
}

// NewPendingTable creates an empty pending-query table.
func NewPendingTable(logger *slog.Logger) *PendingTable {
	return &PendingTable{
		queries: make(map[string]*pendingQuery),
		logger:  ensureLogger(logger),
	}
}

// Add inserts a pending query and arms its timeout. The returned channel
// receives exactly one Result. The request id must be fresh; colliding ids
// indicate a caller bug and the prior entry is timed out on its own.
func (t *PendingTable) Add(requestID, sessionID string, timeout time.Duration) <-chan Result {
	ch := make(chan Result, 1)
	pq := &pendingQuery{sessionID: sessionID, ch: ch}

	t.mu.Lock()
	t.queries[requestID] = pq
	pq.timer = time.AfterFunc(timeout, func() { t.expire(requestID) })
	t.mu.Unlock()

	return ch
}

// Resolve settles the query with a state payload. Returns false if the id
// is unknown (duplicate response, already timed out, or never issued);
// such messages are discarded — a query never resolves twice.
func (t *PendingTable) Resolve(requestID string, state json.RawMessage) bool {
	pq := t.take(requestID)
	if pq == nil {
		return false
	}
	pq.ch <- Result{State: state}
	return true
}

// Reject settles the query with an error. Same discard semantics as Resolve.
func (t *PendingTable) Reject(requestID string, err error) bool {
	pq := t.take(requestID)
	if pq == nil {
		return false
	}
	pq.ch <- Result{Err: err}
	return true
}

// RejectSession settles every pending query owned by the session with the
// given error. Used on viewer disconnect so callers fail in bounded time
// instead of waiting out their timers. Returns the number rejected.
func (t *PendingTable) RejectSession(sessionID string, err error) int {
	t.mu.Lock()
	var taken []*pendingQuery
	for id, pq := range t.queries {
		if pq.sessionID != sessionID {
			continue
		}
		delete(t.queries, id)
		pq.timer.Stop()
		taken = append(taken, pq)
	}
	t.mu.Unlock()

	for _, pq := range taken {
		pq.ch <- Result{Err: err}
	}
	return len(taken)
}

// Cancel removes a pending query without settling it. Used when the
// request could not be routed, so no response can ever arrive.
func (t *PendingTable) Cancel(requestID string) {
	t.take(requestID)
}

// Len returns the number of outstanding queries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queries)
}

// expire is the timer callback: settles the query with a timeout error.
func (t *PendingTable) expire(requestID string) {
	pq := t.take(requestID)
	if pq == nil {
		return
	}
	t.logger.Warn("state query timed out", slog.String("request_id", requestID),
		slog.String("session_id", pq.sessionID))
	pq.ch <- Result{Err: scene.NewError(scene.ErrCodeQueryTimeout, "state query timed out")}
}

// take removes and returns the entry, stopping its timer. Removal under
// the lock is what makes settlement exactly-once.
func (t *PendingTable) take(requestID string) *pendingQuery {
	t.mu.Lock()
	defer t.mu.Unlock()

	pq, ok := t.queries[requestID]
	if !ok {
		return nil
	}
	delete(t.queries, requestID)
	if pq.timer != nil {
		pq.timer.Stop()
	}
	return pq
}

func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return logger
}

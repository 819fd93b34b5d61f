/*
Package store provides in-memory implementations of the persistence
interfaces: balance ledger, user directory, request store, and saga
step history. Used by tests and single-process development runs; the
SQLite-backed equivalents live in store/sqlite.

CONCURRENCY:
  Each store serializes access with a single mutex. For the ledger
  that is exactly the contract: Reserve's read-then-write is one
  critical section, so concurrent reserves on the same (user, type)
  key can never jointly overcommit.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/saga"
)

// =============================================================================
// MEMORY LEDGER
// =============================================================================

type balanceKey struct {
	UserID    string
	LeaveType leave.LeaveType
}

// MemoryLedger keeps balance counters in a map guarded by one mutex.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[balanceKey]leave.LeaveBalance

	// DefaultTotal is the entitlement granted on lazy creation. Zero
	// means leave.DefaultEntitlement.
	DefaultTotal int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[balanceKey]leave.LeaveBalance)}
}

func (l *MemoryLedger) defaultTotal() int {
	if l.DefaultTotal > 0 {
		return l.DefaultTotal
	}
	return leave.DefaultEntitlement
}

// getLocked returns the balance row, creating it lazily.
func (l *MemoryLedger) getLocked(userID string, leaveType leave.LeaveType) leave.LeaveBalance {
	k := balanceKey{UserID: userID, LeaveType: leaveType}
	b, ok := l.balances[k]
	if !ok {
		b = leave.LeaveBalance{
			UserID:    userID,
			LeaveType: leaveType,
			Total:     l.defaultTotal(),
		}
		l.balances[k] = b
	}
	return b
}

func (l *MemoryLedger) Reserve(_ context.Context, userID string, leaveType leave.LeaveType, days int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getLocked(userID, leaveType)
	if b.Available() < days {
		return false, nil
	}
	b.Reserved += days
	l.balances[balanceKey{UserID: userID, LeaveType: leaveType}] = b
	return true, nil
}

func (l *MemoryLedger) Commit(_ context.Context, userID string, leaveType leave.LeaveType, days int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getLocked(userID, leaveType)
	if b.Reserved < days {
		return &leave.LedgerInvariantError{
			Op: "commit", UserID: userID, LeaveType: leaveType, Days: days, Reserved: b.Reserved,
		}
	}
	b.Reserved -= days
	b.Used += days
	l.balances[balanceKey{UserID: userID, LeaveType: leaveType}] = b
	return nil
}

func (l *MemoryLedger) Rollback(_ context.Context, userID string, leaveType leave.LeaveType, days int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getLocked(userID, leaveType)
	if b.Reserved < days {
		return &leave.LedgerInvariantError{
			Op: "rollback", UserID: userID, LeaveType: leaveType, Days: days, Reserved: b.Reserved,
		}
	}
	b.Reserved -= days
	l.balances[balanceKey{UserID: userID, LeaveType: leaveType}] = b
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID string, leaveType leave.LeaveType) (leave.LeaveBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(userID, leaveType), nil
}

// SetBalance seeds a balance row directly. Test and demo helper.
func (l *MemoryLedger) SetBalance(b leave.LeaveBalance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey{UserID: b.UserID, LeaveType: b.LeaveType}] = b
}

// =============================================================================
// MEMORY DIRECTORY
// =============================================================================

// MemoryDirectory resolves users from an in-process map.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]leave.User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]leave.User)}
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(u leave.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (leave.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return leave.User{}, leave.ErrUserNotFound
	}
	return u, nil
}

func (d *MemoryDirectory) GetManager(_ context.Context, userID string) (leave.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok || u.ManagerID == "" {
		return leave.User{}, leave.ErrManagerNotFound
	}
	m, ok := d.users[u.ManagerID]
	if !ok {
		return leave.User{}, leave.ErrManagerNotFound
	}
	return m, nil
}

// =============================================================================
// MEMORY REQUEST STORE
// =============================================================================

// MemoryRequests persists leave requests in-process.
type MemoryRequests struct {
	mu         sync.RWMutex
	byID       map[string]leave.LeaveRequest
	byInstance map[string]string // instance id -> request id
	order      []string          // insertion order of request ids
}

func NewMemoryRequests() *MemoryRequests {
	return &MemoryRequests{
		byID:       make(map[string]leave.LeaveRequest),
		byInstance: make(map[string]string),
	}
}

func (s *MemoryRequests) Create(_ context.Context, req leave.LeaveRequest) (leave.LeaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = "req-" + uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = leave.StatusPendingApproval
	}

	s.byID[req.ID] = req
	if req.InstanceID != "" {
		s.byInstance[req.InstanceID] = req.ID
	}
	s.order = append(s.order, req.ID)
	return req, nil
}

func (s *MemoryRequests) UpdateStatus(_ context.Context, id string, status leave.LeaveStatus, approverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byID[id]
	if !ok {
		return leave.ErrRequestNotFound
	}
	if req.Status.Terminal() {
		if req.Status == status {
			return nil // idempotent re-execution
		}
		return leave.ErrRequestFinalized
	}
	req.Status = status
	req.ApproverID = approverID
	req.UpdatedAt = time.Now().UTC()
	s.byID[id] = req
	return nil
}

func (s *MemoryRequests) GetByID(_ context.Context, id string) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[id]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return req, nil
}

func (s *MemoryRequests) GetByInstanceID(_ context.Context, instanceID string) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byInstance[instanceID]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryRequests) List(_ context.Context) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]leave.LeaveRequest, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		result = append(result, s.byID[s.order[i]])
	}
	return result, nil
}

// =============================================================================
// MEMORY HISTORY - Saga step outcomes
// =============================================================================

// MemoryHistory keeps saga step outcomes per instance, append-only.
type MemoryHistory struct {
	mu       sync.RWMutex
	outcomes map[string][]saga.StepOutcome
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{outcomes: make(map[string][]saga.StepOutcome)}
}

func (h *MemoryHistory) Append(_ context.Context, outcome saga.StepOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes[outcome.InstanceID] = append(h.outcomes[outcome.InstanceID], outcome)
	return nil
}

func (h *MemoryHistory) Load(_ context.Context, instanceID string) ([]saga.StepOutcome, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recorded := h.outcomes[instanceID]
	result := make([]saga.StepOutcome, len(recorded))
	copy(result, recorded)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

/*
sqlite_test.go - Persistence tests against an in-memory database

Covers the ledger's reservation discipline under SQL transactions, the
request lifecycle, saga history ordering, the audit sink and the seed
directory.
*/
package sqlite

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/saga"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := leave.ParseDate(s)
	require.NoError(t, err)
	return d
}

// =============================================================================
// LEDGER
// =============================================================================

func TestSQLiteLedger_ReserveCommitRollback(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// First touch lazily creates the default entitlement.
	ok, err := s.Reserve(ctx, "u1", leave.LeaveCasual, 3)
	require.NoError(t, err)
	require.True(t, ok)

	b, err := s.Balance(ctx, "u1", leave.LeaveCasual)
	require.NoError(t, err)
	assert.Equal(t, leave.DefaultEntitlement, b.Total)
	assert.Equal(t, 3, b.Reserved)
	assert.Equal(t, 7, b.Available())

	require.NoError(t, s.Commit(ctx, "u1", leave.LeaveCasual, 3))
	b, err = s.Balance(ctx, "u1", leave.LeaveCasual)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Used)
	assert.Equal(t, 0, b.Reserved)

	ok, err = s.Reserve(ctx, "u1", leave.LeaveCasual, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Rollback(ctx, "u1", leave.LeaveCasual, 5))
	b, err = s.Balance(ctx, "u1", leave.LeaveCasual)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Used)
	assert.Equal(t, 0, b.Reserved)
	assert.Equal(t, 7, b.Available())
}

func TestSQLiteLedger_InsufficientBalance(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "u1", leave.LeaveCasual, leave.DefaultEntitlement+1)
	require.NoError(t, err)
	assert.False(t, ok)

	b, err := s.Balance(ctx, "u1", leave.LeaveCasual)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Reserved, "failed reservation must not hold anything")
}

func TestSQLiteLedger_SettleBeyondReservedIsFatal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "u1", leave.LeaveCasual, 2)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.Commit(ctx, "u1", leave.LeaveCasual, 5)
	assert.ErrorIs(t, err, leave.ErrLedgerInvariant)

	err = s.Rollback(ctx, "u1", leave.LeaveCasual, 5)
	assert.ErrorIs(t, err, leave.ErrLedgerInvariant)

	// The failed settlements left the counters untouched.
	b, err := s.Balance(ctx, "u1", leave.LeaveCasual)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Reserved)
	assert.Equal(t, 0, b.Used)
}

func TestSQLiteLedger_ConcurrentReservesNeverOvercommit(t *testing.T) {
	// GIVEN: 10 available days and 20 goroutines each reserving 3
	// THEN: Exactly 3 reservations are granted (9 days held); the
	//       read-then-write is one critical section per caller

	s := newStore(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var granted atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Reserve(ctx, "u1", leave.LeaveCasual, 3)
			assert.NoError(t, err)
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), granted.Load())
	b, err := s.Balance(ctx, "u1", leave.LeaveCasual)
	require.NoError(t, err)
	assert.Equal(t, 9, b.Reserved)
	assert.Equal(t, 1, b.Available())
}

func TestSQLiteLedger_TypesAreIndependent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "u1", leave.LeaveCasual, 4)
	require.NoError(t, err)
	require.True(t, ok)

	b, err := s.Balance(ctx, "u1", leave.LeaveSick)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Reserved)
	assert.Equal(t, leave.DefaultEntitlement, b.Available())
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestSQLiteDirectory_UsersAndManagers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, leave.User{ID: "m1", Name: "Mana Ger", Email: "m@example.com", Role: leave.RoleManager}))
	require.NoError(t, s.PutUser(ctx, leave.User{ID: "e1", Name: "Emp Loyee", Email: "e@example.com", Role: leave.RoleEmployee, ManagerID: "m1"}))

	u, err := s.GetUser(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "m1", u.ManagerID)

	m, err := s.GetManager(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)

	_, err = s.GetManager(ctx, "m1")
	assert.ErrorIs(t, err, leave.ErrManagerNotFound)

	_, err = s.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, leave.ErrUserNotFound)

	// Upsert replaces in place.
	require.NoError(t, s.PutUser(ctx, leave.User{ID: "e1", Name: "Emp Loyee", Email: "e@example.com", Role: leave.RoleEmployee}))
	_, err = s.GetManager(ctx, "e1")
	assert.ErrorIs(t, err, leave.ErrManagerNotFound)
}

func TestSQLiteSeed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx))

	m, err := s.GetManager(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u2", m.ID)
	assert.Equal(t, leave.RoleManager, m.Role)

	hr, err := s.GetUser(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, leave.RoleHR, hr.Role)

	admin, err := s.GetUser(ctx, "u4")
	require.NoError(t, err)
	assert.Equal(t, leave.RoleAdmin, admin.Role)

	// Seeding twice is harmless.
	require.NoError(t, s.Seed(ctx))
}

// =============================================================================
// REQUESTS
// =============================================================================

func seedRequester(t *testing.T, s *Store) {
	t.Helper()
	require.NoError(t, s.PutUser(context.Background(), leave.User{
		ID: "u1", Name: "John Employee", Email: "john@example.com", Role: leave.RoleEmployee,
	}))
}

func TestSQLiteRequests_Lifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedRequester(t, s)

	created, err := s.Create(ctx, leave.LeaveRequest{
		UserID:     "u1",
		LeaveType:  leave.LeaveCasual,
		StartDate:  date(t, "2024-01-10"),
		EndDate:    date(t, "2024-01-12"),
		Reason:     "family event",
		Status:     leave.StatusPendingApproval,
		InstanceID: "leave-u1-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPendingApproval, got.Status)
	assert.Equal(t, 3, got.Days())
	assert.Equal(t, "leave-u1-1", got.InstanceID)

	byInstance, err := s.GetByInstanceID(ctx, "leave-u1-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byInstance.ID)

	require.NoError(t, s.UpdateStatus(ctx, created.ID, leave.StatusApproved, "u2"))
	got, err = s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, got.Status)
	assert.Equal(t, "u2", got.ApproverID)
}

func TestSQLiteRequests_TerminalStatusIsSetOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedRequester(t, s)

	created, err := s.Create(ctx, leave.LeaveRequest{
		UserID:     "u1",
		LeaveType:  leave.LeaveCasual,
		StartDate:  date(t, "2024-01-10"),
		EndDate:    date(t, "2024-01-10"),
		Reason:     "errand",
		Status:     leave.StatusPendingApproval,
		InstanceID: "leave-u1-2",
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, created.ID, leave.StatusApproved, "u2"))

	// Same terminal status again: idempotent replay.
	require.NoError(t, s.UpdateStatus(ctx, created.ID, leave.StatusApproved, "u2"))

	// A different terminal status is refused.
	err = s.UpdateStatus(ctx, created.ID, leave.StatusRejected, "u3")
	assert.ErrorIs(t, err, leave.ErrRequestFinalized)

	err = s.UpdateStatus(ctx, "ghost", leave.StatusApproved, "u2")
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
}

// =============================================================================
// SAGA HISTORY
// =============================================================================

func TestSQLiteHistory_AppendLoadInOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for seq, step := range []string{"get-user", "create-request", "reserve-balance"} {
		raw, err := json.Marshal(map[string]any{"step": step})
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, saga.StepOutcome{
			InstanceID: "inst-1",
			Seq:        seq,
			Step:       step,
			Result:     raw,
			RecordedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, s.Append(ctx, saga.StepOutcome{
		InstanceID: "inst-2",
		Seq:        0,
		Step:       "get-user",
		Result:     json.RawMessage(`{}`),
		RecordedAt: time.Now().UTC(),
	}))

	outcomes, err := s.Load(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, step := range []string{"get-user", "create-request", "reserve-balance"} {
		assert.Equal(t, i, outcomes[i].Seq)
		assert.Equal(t, step, outcomes[i].Step)
	}

	none, err := s.Load(ctx, "inst-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestSQLiteAudit_AppendAndQuery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := AuditSink{Store: s}

	now := time.Now().UTC()
	require.NoError(t, sink.Append(ctx, leave.AuditEntry{
		Timestamp: now,
		Action:    "checkAndReserveLeaveBalance",
		ActorID:   "u1",
		RequestID: "req-1",
		Details:   map[string]any{"days": 3},
	}))
	require.NoError(t, sink.Append(ctx, leave.AuditEntry{
		Timestamp: now.Add(time.Second),
		Action:    "commitLeaveDeduction",
		RequestID: "req-1",
	}))
	require.NoError(t, sink.Append(ctx, leave.AuditEntry{
		Timestamp: now,
		Action:    "getUserById",
		RequestID: "req-2",
	}))

	entries, err := sink.ByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "checkAndReserveLeaveBalance", entries[0].Action)
	assert.Equal(t, "u1", entries[0].ActorID)
	assert.Equal(t, "commitLeaveDeduction", entries[1].Action)
	require.NotNil(t, entries[0].Details)
	assert.EqualValues(t, 3, entries[0].Details["days"])
}

package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store"
)

// =============================================================================
// DAY COUNTING
// =============================================================================

func TestDaysInclusive_CountsBothEnds(t *testing.T) {
	// GIVEN: A window from Jan 10 to Jan 12
	// WHEN: Counting days
	// THEN: 3 days (both ends included)

	start := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 12, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, leave.DaysInclusive(start, end))
}

func TestDaysInclusive_SingleDay(t *testing.T) {
	day := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, leave.DaysInclusive(day, day))
}

func TestDaysInclusive_IgnoresTimeOfDay(t *testing.T) {
	// Calendar dates, not durations: 23h apart on adjacent days is 2 days.
	start := time.Date(2024, time.January, 10, 23, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 11, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, leave.DaysInclusive(start, end))
}

func TestDaysInclusive_AcrossMonthBoundary(t *testing.T) {
	start := time.Date(2024, time.January, 30, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.February, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 4, leave.DaysInclusive(start, end))
}

// =============================================================================
// ENUMERATIONS
// =============================================================================

func TestLeaveType_Valid(t *testing.T) {
	for _, lt := range leave.LeaveTypes {
		assert.True(t, lt.Valid(), "expected %s to be valid", lt)
	}
	assert.False(t, leave.LeaveType("SABBATICAL").Valid())
	assert.False(t, leave.LeaveType("").Valid())
}

func TestLeaveStatus_Terminal(t *testing.T) {
	assert.False(t, leave.StatusPendingApproval.Terminal())
	assert.True(t, leave.StatusApproved.Terminal())
	assert.True(t, leave.StatusRejected.Terminal())
	assert.True(t, leave.StatusCancelled.Terminal())
}

func TestBalance_Available(t *testing.T) {
	b := leave.LeaveBalance{Total: 10, Used: 3, Reserved: 2}
	assert.Equal(t, 5, b.Available())
}

// =============================================================================
// APPROVER PERMISSION
// =============================================================================

func permissionDirectory() *store.MemoryDirectory {
	dir := store.NewMemoryDirectory()
	dir.Put(leave.User{ID: "hr", Name: "Bob HR", Email: "bob@example.com", Role: leave.RoleHR})
	dir.Put(leave.User{ID: "admin", Name: "Alice Admin", Email: "alice@example.com", Role: leave.RoleAdmin})
	dir.Put(leave.User{ID: "mgr", Name: "Jane Manager", Email: "jane@example.com", Role: leave.RoleManager, ManagerID: "hr"})
	dir.Put(leave.User{ID: "other-mgr", Name: "Tim Manager", Email: "tim@example.com", Role: leave.RoleManager, ManagerID: "hr"})
	dir.Put(leave.User{ID: "emp", Name: "John Employee", Email: "john@example.com", Role: leave.RoleEmployee, ManagerID: "mgr"})
	dir.Put(leave.User{ID: "peer", Name: "Pat Peer", Email: "pat@example.com", Role: leave.RoleEmployee, ManagerID: "mgr"})
	return dir
}

func TestPermission_AdminAndHR_AlwaysAuthorized(t *testing.T) {
	dir := permissionDirectory()
	ctx := context.Background()

	for _, approver := range []string{"admin", "hr"} {
		ok, err := leave.ValidateApproverPermission(ctx, dir, approver, "emp")
		require.NoError(t, err)
		assert.True(t, ok, "%s should approve anything", approver)
	}
}

func TestPermission_DirectManager_Authorized(t *testing.T) {
	dir := permissionDirectory()

	ok, err := leave.ValidateApproverPermission(context.Background(), dir, "mgr", "emp")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermission_UnrelatedManager_Denied(t *testing.T) {
	// GIVEN: A manager who is NOT in the requester's chain
	// THEN: Denied - the check is a single hop, not org-wide

	dir := permissionDirectory()

	ok, err := leave.ValidateApproverPermission(context.Background(), dir, "other-mgr", "emp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermission_Employee_Denied(t *testing.T) {
	dir := permissionDirectory()

	ok, err := leave.ValidateApproverPermission(context.Background(), dir, "peer", "emp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermission_UnknownIDs_DeniedNotError(t *testing.T) {
	// Unknown approver or requester is a denial, not a lookup failure.

	dir := permissionDirectory()
	ctx := context.Background()

	ok, err := leave.ValidateApproverPermission(ctx, dir, "ghost", "emp")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = leave.ValidateApproverPermission(ctx, dir, "mgr", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermission_ManagerReassignment_Honored(t *testing.T) {
	// GIVEN: emp reports to mgr, then is reassigned to other-mgr
	// THEN: The old manager loses authority, the new one gains it

	dir := permissionDirectory()
	ctx := context.Background()

	dir.Put(leave.User{ID: "emp", Name: "John Employee", Email: "john@example.com", Role: leave.RoleEmployee, ManagerID: "other-mgr"})

	ok, err := leave.ValidateApproverPermission(ctx, dir, "mgr", "emp")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = leave.ValidateApproverPermission(ctx, dir, "other-mgr", "emp")
	require.NoError(t, err)
	assert.True(t, ok)
}

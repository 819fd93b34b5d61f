/*
directory.go - User directory lookup and the approver permission rule

PURPOSE:
  The directory resolves users and their approval-chain manager. The
  saga consumes it in two places: at the start (who is the requester,
  who gets notified) and again at decision time (is the signal sender
  allowed to decide). The decision-time check deliberately re-reads the
  live directory so a manager reassignment between submission and
  decision is honored.

PERMISSION RULE:
  - ADMIN and HR approve anything.
  - MANAGER approves only direct reports (single hop, never walks the
    full chain - this also bounds lookups on a miswired manager tree).
  - Everyone else, and unknown ids, are unauthorized.
*/
package leave

import (
	"context"
	"errors"
)

// Directory resolves users and their reporting line.
type Directory interface {
	// GetUser returns the user with the given id, or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (User, error)

	// GetManager returns the direct manager of the given user, or
	// ErrManagerNotFound when the user is missing or has no manager.
	GetManager(ctx context.Context, userID string) (User, error)
}

// ValidateApproverPermission reports whether approverID may decide a
// request from requesterID, per the single-hop rule above. Unknown ids
// yield false rather than an error: an unauthorized signal is a
// business-level denial, not a lookup failure.
func ValidateApproverPermission(ctx context.Context, dir Directory, approverID, requesterID string) (bool, error) {
	approver, err := dir.GetUser(ctx, approverID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := dir.GetUser(ctx, requesterID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	switch approver.Role {
	case RoleAdmin, RoleHR:
		return true, nil
	case RoleManager:
		manager, err := dir.GetManager(ctx, requesterID)
		if errors.Is(err, ErrManagerNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return manager.ID == approverID, nil
	default:
		return false, nil
	}
}

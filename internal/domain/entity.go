package domain

// EntityStatus represents the lifecycle state of a tracked entity.
type EntityStatus string

// Possible entity status values
const (
	EntityStatusPending    EntityStatus = "pending"
	EntityStatusUploaded   EntityStatus = "uploaded"
	EntityStatusProcessing EntityStatus = "processing"
	EntityStatusReady      EntityStatus = "ready"
	EntityStatusFailed     EntityStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
// Terminal entities never transition again.
func (s EntityStatus) IsTerminal() bool {
	return s == EntityStatusReady || s == EntityStatusFailed
}

// isValidEntityStatus checks if the given status is a valid EntityStatus.
func isValidEntityStatus(status EntityStatus) bool {
	switch status {
	case EntityStatusPending, EntityStatusUploaded, EntityStatusProcessing,
		EntityStatusReady, EntityStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether an entity may move from one status to another.
// Transitions are monotonic: pending may become uploaded or processing,
// uploaded may become processing, processing may become ready or failed,
// and terminal states admit no further movement.
func CanTransition(from, to EntityStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case EntityStatusPending:
		return to == EntityStatusUploaded || to == EntityStatusProcessing || to == EntityStatusFailed
	case EntityStatusUploaded:
		return to == EntityStatusProcessing || to == EntityStatusFailed
	case EntityStatusProcessing:
		return to == EntityStatusReady || to == EntityStatusFailed
	default:
		return false
	}
}

package meal

import (
	"context"

	"mealgate/internal/rtdb"
)

// Hardware command values consumed by the external door controller.
const (
	DoorOpen   = "OPEN"
	DoorLocked = "LOCKED"
	BuzzerBeep = "BEEP"
	BuzzerOff  = "OFF"
)

// Hardware publishes door-lock and buzzer commands. Both slots are
// last-write-wins: the controller owns the read side and any auto-revert
// back to LOCKED, so there is no acknowledgement and no retry here — a
// failed write goes straight back to the operator.
type Hardware struct {
	store rtdb.Store
}

// NewHardware creates the signaler.
func NewHardware(store rtdb.Store) *Hardware {
	return &Hardware{store: store}
}

// OpenDoor commands the lock open.
func (h *Hardware) OpenDoor(ctx context.Context) error {
	return h.store.Write(ctx, doorLockPath, DoorOpen)
}

// LockDoor commands the lock closed.
func (h *Hardware) LockDoor(ctx context.Context) error {
	return h.store.Write(ctx, doorLockPath, DoorLocked)
}

// Beep sounds the buzzer.
func (h *Hardware) Beep(ctx context.Context) error {
	return h.store.Write(ctx, buzzerPath, BuzzerBeep)
}

// Silence stops the buzzer.
func (h *Hardware) Silence(ctx context.Context) error {
	return h.store.Write(ctx, buzzerPath, BuzzerOff)
}

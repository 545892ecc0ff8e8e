package calendarview

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// A drag gesture moves through three states. Transitions are methods on
// Drag; anything else is a programming error and returns ErrBadTransition.
type State int

const (
	StateIdle State = iota
	StateDragging
	StateDropped
	StateCancelled
)

var ErrBadTransition = errors.New("invalid drag transition")

// Card is the dragged appointment as the grid knows it.
type Card struct {
	AppointmentID  uuid.UUID
	ProfessionalID uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
}

// MoveRequest is what the client sends to the reschedule endpoint after a
// drop. The appointment's duration is preserved; only the window moves.
type MoveRequest struct {
	AppointmentID  uuid.UUID
	ProfessionalID uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
}

// Drag is one gesture over a single card. The zero value is not usable;
// start with Begin.
type Drag struct {
	state State
	card  Card
}

func Begin(card Card) (*Drag, error) {
	if !card.EndsAt.After(card.StartsAt) {
		return nil, errors.New("card has no duration")
	}
	return &Drag{state: StateDragging, card: card}, nil
}

func (d *Drag) State() State { return d.state }

// Card returns the original card so the UI can put the appointment back
// when a drop is rejected by the server (the move is never assumed).
func (d *Drag) Card() Card { return d.card }

// Cancel abandons the gesture; the card never left its original slot.
func (d *Drag) Cancel() error {
	if d.state != StateDragging {
		return ErrBadTransition
	}
	d.state = StateCancelled
	return nil
}

// Drop finishes the gesture over a target cell. It returns the move request
// to send, or nil when the snapped slot equals the original one: dropping a
// card back where it came from makes no network call.
func (d *Drag) Drop(target DropTarget) (*MoveRequest, error) {
	if d.state != StateDragging {
		return nil, ErrBadTransition
	}
	d.state = StateDropped

	newStart := SnapToSlot(target)
	duration := d.card.EndsAt.Sub(d.card.StartsAt)

	if newStart.Equal(d.card.StartsAt) {
		return nil, nil
	}

	return &MoveRequest{
		AppointmentID:  d.card.AppointmentID,
		ProfessionalID: d.card.ProfessionalID,
		StartsAt:       newStart,
		EndsAt:         newStart.Add(duration),
	}, nil
}

// PreviewConflict reports whether the proposed move would visually collide
// with any of the professional's other cards currently on the grid. It is a
// UX hint only; the server re-checks under its own lock.
func PreviewConflict(move MoveRequest, others []Card) bool {
	for _, c := range others {
		if c.AppointmentID == move.AppointmentID {
			continue
		}
		if c.ProfessionalID != move.ProfessionalID {
			continue
		}
		if Overlaps(move.StartsAt, move.EndsAt, c.StartsAt, c.EndsAt) {
			return true
		}
	}
	return false
}

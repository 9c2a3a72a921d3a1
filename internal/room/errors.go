package room

import "github.com/victornm/codeduel/internal/errors"

var (
	ErrMissingRoomKey   = errors.New(errors.CodeInvalidArgument, errors.WithMessage("missing room key"))
	ErrUnknownRoom      = errors.New(errors.CodeNotFound, errors.WithMessage("unknown room"))
	ErrUnknownSlot      = errors.New(errors.CodeNotFound, errors.WithMessage("unknown slot"))
	ErrNotSlotOwner     = errors.New(errors.CodePermissionDenied, errors.WithMessage("slot is owned by another session"))
	ErrNotArmed         = errors.New(errors.CodeFailedPrecondition, errors.WithMessage("both players must be ready"))
	ErrPending          = errors.New(errors.CodeFailedPrecondition, errors.WithMessage("waiting for both submissions"))
	ErrBattleResolved   = errors.New(errors.CodeFailedPrecondition, errors.WithMessage("battle already resolved"))
	ErrAlreadySubmitted = errors.New(errors.CodeAlreadyExists, errors.WithMessage("solution already submitted"))
)

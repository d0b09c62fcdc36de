package streammgr

import "errors"

var (
	// ErrUnknownStream names a stream id this worker has never created.
	// StartStream and EndStream report such ids as (false, nil) and do not
	// return it.
	ErrUnknownStream = errors.New("streammgr: unknown stream")
	// ErrInvalidTransition is returned by StartStream/EndStream when the
	// requested transition would violate the pending->live->ended ordering.
	ErrInvalidTransition = errors.New("streammgr: invalid status transition")
	// ErrInvalidArgument covers empty tenant or user inputs to CreateStream;
	// an empty title is accepted.
	ErrInvalidArgument = errors.New("streammgr: invalid argument")
)

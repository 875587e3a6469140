package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Seat routing.
	ErrSeatTaken    = "E_SEAT_TAKEN"
	ErrSeatNotFound = "E_SEAT_NOT_FOUND"

	// Action layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrStale      = "E_STALE"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrSeatTaken:       {},
	ErrSeatNotFound:    {},
	ErrBadRequest:      {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

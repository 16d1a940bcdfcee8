package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Form and engine commands.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownRecipe = "E_UNKNOWN_RECIPE"
	ErrNoForm        = "E_NO_FORM"
	ErrNotRunning    = "E_NOT_RUNNING"
	ErrBusy          = "E_BUSY"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownRecipe:   {},
	ErrNoForm:          {},
	ErrNotRunning:      {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

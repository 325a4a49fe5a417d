package syncloop

import (
	"errors"

	"trading-signalsync/internal/settings"
)

// Failures a loop absorbs and retries on the next cycle. None of them
// stops a loop or the process.
var (
	ErrTransientFetch       = errors.New("transient fetch failure")
	ErrTransientPersistence = errors.New("transient persistence failure")
	ErrConfigParse          = settings.ErrConfigParse
)

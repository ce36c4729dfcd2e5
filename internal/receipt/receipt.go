package receipt

import (
	"errors"
	"fmt"

	"github.com/zombor/ticketmiam/internal/nutrition"
)

// ErrConfirmationRequired is returned when history is cleared without explicit confirmation
var ErrConfirmationRequired = errors.New("clearing history requires confirmation")

// PersistenceError reports a scan that was analyzed and added to the in-memory
// history but could not be saved. Result is complete and usable.
type PersistenceError struct {
	Result *nutrition.ScanResult
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("scan %s not persisted: %v", e.Result.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Macros is the macro chart payload of a scan
type Macros struct {
	Totals nutrition.MacroTotals `json:"totals"`
	Shares nutrition.MacroShares `json:"shares"`
}

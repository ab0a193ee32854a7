package capture

import (
	"errors"
	"fmt"

	"github.com/nasti-l/movement-tracker/capture/internal/gstpipe"
)

var (
	// ErrInit matches every *InitError.
	ErrInit = errors.New("capture: initialization failed")
	// ErrStageUnavailable means a configured stage could not be created.
	ErrStageUnavailable = errors.New("capture: stage unavailable")
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("capture: already running")
)

// InitError is returned synchronously by constructors when the source cannot
// be built. errors.Is(err, ErrInit) holds for every InitError.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("capture: init: %v", e.Err)
	}
	return fmt.Sprintf("capture: init stage %q: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Is reports ErrInit as a match.
func (e *InitError) Is(target error) bool { return target == ErrInit }

// Category classifies runtime capture errors.
type Category = gstpipe.Category

const (
	CategoryDevice      = gstpipe.CategoryDevice
	CategoryNegotiation = gstpipe.CategoryNegotiation
	CategoryPermission  = gstpipe.CategoryPermission
	CategoryResource    = gstpipe.CategoryResource
	CategoryUnknown     = gstpipe.CategoryUnknown
)

// CaptureError is returned by Start when a runtime error stopped the source.
type CaptureError struct {
	Category Category
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: runtime error [%s]: %v", e.Category, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func stageUnavailable(stage string, err error) *InitError {
	return &InitError{Stage: stage, Err: fmt.Errorf("%w: %v", ErrStageUnavailable, err)}
}

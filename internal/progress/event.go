package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StageDayDone   Stage = "DAY_DONE"
	StageDayError  Stage = "DAY_ERROR"
	StagePageDone  Stage = "PAGE_DONE"
	StagePageError Stage = "PAGE_ERROR"
	StageWrite     Stage = "WRITE_PROGRESS"
)

// Event captures one milestone of an export run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Province is the province code the run is scoped to.
	Province string
	// From and To carry the run's date range on RUN_START.
	From string
	To   string
	// Day is the YYYY-MM-DD unit for day and page events.
	Day string
	// Page is the 1-based listing page for page events.
	Page int
	// Mode is export or pages on DAY_DONE.
	Mode string
	// Rows is the row count for day/page events, or rows written so far on
	// WRITE_PROGRESS and RUN_DONE.
	Rows int64
	// Total is the number of days on RUN_START and rows to write on
	// WRITE_PROGRESS and RUN_DONE.
	Total       int64
	Pages       int64
	PagesFailed int64
	Dur         time.Duration
	// Note carries low-volume context such as the error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageWrite:
	case StageDayDone, StageDayError:
		if e.Day == "" {
			return errors.New("day event requires day")
		}
	case StagePageDone, StagePageError:
		if e.Day == "" {
			return errors.New("page event requires day")
		}
		if e.Page < 1 {
			return errors.New("page event requires a page number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Rows < 0 || e.Dur < 0 {
		return errors.New("rows and duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

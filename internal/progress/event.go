// Package progress defines the coordination events emitted by the engine and
// the hub that fans them out to observability sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported coordination stages.
const (
	StageRunSelect       Stage = "RUN_SELECT"
	StageStateSet        Stage = "STATE_SET"
	StageProgress        Stage = "PROGRESS"
	StageNudge           Stage = "NUDGE"
	StageTimeout         Stage = "TIMEOUT"
	StageProductAccepted Stage = "PRODUCT_ACCEPTED"
	StageProductRejected Stage = "PRODUCT_REJECTED"
	StageArtifactForward Stage = "ARTIFACT_FORWARDED"
	StageArtifactDropped Stage = "ARTIFACT_DROPPED"
	StageWorkerLog       Stage = "WORKER_LOG"
)

// Event captures a single coordination milestone.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// RunID scopes the event to a crawl run; empty for process-level events.
	RunID string
	// StoreID scopes the event to one store where applicable.
	StoreID string
	// ProductID identifies the product for artifact events.
	ProductID string
	// Count carries the item delta (accepted products, granted budget, ...).
	Count int
	// Dur captures downstream forwarding latency where measured.
	Dur time.Duration
	// Note attaches low-volume context such as error text or worker logs.
	Note string
}

// Validate performs coarse validation on Event payloads before buffering.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunSelect, StageWorkerLog:
	case StageStateSet, StageProgress, StageNudge, StageTimeout,
		StageProductAccepted, StageProductRejected,
		StageArtifactForward, StageArtifactDropped:
		if e.StoreID == "" {
			return fmt.Errorf("stage %s requires store id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

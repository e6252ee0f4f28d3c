package searcher

import "fmt"

// Stage is a step of the search pipeline
type Stage int

const (
	StageReceived Stage = iota
	StageFilterResolved
	StageListsRetrieved
	StageFused
	StageLimited
	StageReturned
)

var stageNames = [...]string{
	StageReceived:       "received",
	StageFilterResolved: "filter_resolved",
	StageListsRetrieved: "lists_retrieved",
	StageFused:          "fused",
	StageLimited:        "limited",
	StageReturned:       "returned",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError records the stage at which a search failed
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("search %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

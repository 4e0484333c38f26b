package environment

// Stage is the position of an execution in the environment's control path.
type Stage int

const (
	StageIdle Stage = iota
	StageValidating
	StageLoading
	StageSelectingEngine
	StageRunning
	StageCompleted
	StageFailed
)

var stageNames = map[Stage]string{
	StageIdle:            "idle",
	StageValidating:      "validating",
	StageLoading:         "loading",
	StageSelectingEngine: "selecting_engine",
	StageRunning:         "running",
	StageCompleted:       "completed",
	StageFailed:          "failed",
}

// String returns the stage name used in logs, spans and metrics.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further stage follows s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// StageHook is called on every stage transition of an execution.
type StageHook func(Stage)

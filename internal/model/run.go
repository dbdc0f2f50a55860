package model

import "time"

// ProgressHeader lists the fields of the progress file, in file order.
var ProgressHeader = []string{"generation", "best_fitness", "avg_fitness", "worst_fitness", "diversity"}

// ProgressRow is one generation reported by the optimizer.
type ProgressRow struct {
	Generation   int     `json:"generation"`
	BestFitness  float64 `json:"best_fitness"`
	AvgFitness   float64 `json:"avg_fitness"`
	WorstFitness float64 `json:"worst_fitness"`
	Diversity    float64 `json:"diversity"`
}

// RunInfo identifies an active run.
type RunInfo struct {
	ID      string    `json:"id"`
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
	Config  RunConfig `json:"config"`
}

// Run outcomes
const (
	OutcomeCompleted          = "completed"
	OutcomeStopped            = "stopped"
	OutcomeFailed             = "failed"
	OutcomeLaunchFailure      = "launch_failure"
	OutcomeTerminationFailure = "termination_failure"
)

// RunResult describes how a run ended.
type RunResult struct {
	RunInfo
	Stopped       time.Time `json:"stopped"`
	ExitCode      int       `json:"exitCode"`
	StopRequested bool      `json:"stopRequested"`
	Outcome       string    `json:"outcome"`
	ErrorKind     string    `json:"errorKind,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func (r RunResult) Duration() time.Duration {
	return r.Stopped.Sub(r.Started)
}

// Status is a consistent snapshot of the supervisor.
type Status struct {
	Running       bool       `json:"running"`
	ProgressCount int        `json:"progressCount"`
	Config        RunConfig  `json:"config"`
	Run           *RunInfo   `json:"run,omitempty"`
	LastRun       *RunResult `json:"lastRun,omitempty"`
}

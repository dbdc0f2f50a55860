package service

// Package service implements supervision of the external optimizer process.
//
// Overview
// The Supervisor is a two state machine, Idle or Running. Start launches the
// optimizer through a Launcher and returns at once, a monitor goroutine waits
// for the child and moves the Supervisor back to Idle when it exits.
//
// Runner is the os/exec Launcher:
//   - puts the child in its own process group (unix)
//   - drains stdout and stderr line by line (one goroutine per stream)
//   - Terminate sends SIGTERM to the group, Kill sends SIGKILL
//   - Wait returns once the child exited and the output was drained
//
// Data flow:
//
//   Start()                 Supervisor               Runner/Process
//      | merge + validate ----->|                          |
//      |                        | write config.txt         |
//      |                        | remove output.csv        |
//      |                        | Launch() --------------->| exec Start
//      |<---- RunConfig --------| Running                  |
//      |                        |       monitor: Wait() -->| (process exits)
//      |                        |<-------- ExitStatus -----|
//      |                        | Idle, RunResult recorded |
//
// Stop escalates: Terminate, then Kill after the grace period. A child which
// survives the kill timeout is given up and the Supervisor returns to Idle
// with a TerminationFailure result.
//
// Invariants:
//   - At most one child is Running.
//   - The RunConfig only changes while Idle.
//   - The progress file is only removed while Idle.
//   - Each Running period produces exactly one RunResult and observers see
//     RunStarted before RunFinished.
//
// internal/service/supervisor_test.go shows the intended usage.

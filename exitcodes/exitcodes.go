// Package exitcodes defines the standard exit codes used by op-testrunner.
package exitcodes

// Exit code constants used by op-testrunner.
//
// * Success (0): the test runner process ran to completion. Individual test
//   outcomes are reported through the result file, not the exit code.
// * TestFailure (1): conventional code for a runner that reported failure itself.
//   Runner codes are always propagated verbatim.
// * RuntimeErr (2): configuration, resolution or wait failures inside op-testrunner,
//   and runner processes that terminated abnormally (e.g. killed by a signal)
// * LaunchFailure (127): the runner process could not be started at all
const (
	Success       = 0
	TestFailure   = 1
	RuntimeErr    = 2
	LaunchFailure = 127
)

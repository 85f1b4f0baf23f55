// Package lockpin layers lock-file-pinned package installation on top of
// task-runner sessions.
//
// A session is one isolated execution context (virtual environment, working
// directory, interpreter) owned by a host task runner. lockpin wraps the
// session behind a proxy whose Install operation rewrites its arguments:
// named requirements are constrained to the versions recorded in
// poetry.lock via an exported constraints file, and the "." argument is
// replaced by a freshly built distribution archive, so the local project is
// never installed from an editable checkout.
//
// Example:
//
//	runner, _ := lockpin.NewRunner(provider)
//	runner.Define(lockpin.Task{
//		Name:    "tests",
//		Usage:   "Run the test suite",
//		Pythons: []string{"3.11", "3.12"},
//		Action: func(a *goyek.A, s *lockpin.Session) {
//			if err := s.Install(a.Context(), "pytest", "."); err != nil {
//				a.Fatal(err)
//			}
//			if _, err := s.Run(a.Context(), "pytest"); err != nil {
//				a.Fatal(err)
//			}
//		},
//	})
package lockpin

import "github.com/cjolowicz/lockpin/poetry"

// Distribution formats for the local package, re-exported for convenience.
const (
	Wheel = poetry.Wheel
	SDist = poetry.SDist
)

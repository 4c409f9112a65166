package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes reported by upload-style commands.
const (
	exitCompleted  = 0
	exitIncomplete = 1
	exitUsage      = 2
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "cropion",
	Short: "Field telemetry and media uplink client",
	Long: `cropion uploads large capture files to a collection server in
resumable chunks and inspects in-flight transfers. Interrupted uploads
pick up where they left off on the next run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code, ok := exitCodeFor(err); ok {
			return code
		}
		return exitUsage
	}
	return exitCompleted
}

// incompleteError marks a run that stopped with chunks outstanding. The
// transfer is resumable, which callers distinguish from usage errors.
type incompleteError struct {
	err error
}

func (e *incompleteError) Error() string { return e.err.Error() }

func (e *incompleteError) Unwrap() error { return e.err }

func exitCodeFor(err error) (int, bool) {
	if _, ok := err.(*incompleteError); ok {
		return exitIncomplete, true
	}
	return 0, false
}

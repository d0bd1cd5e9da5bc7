package main

import (
	"fmt"
	"os"

	"github.com/pagedb/pagedb"
)

func cmdRecover(out, errOut *os.File, args []string) int {
	fs, journalDir := commonFlags("recover")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "pagedbctl recover: expected a store path")
		return 2
	}
	path := fs.Arg(0)

	env, err := pagedb.Open(path, pagedb.EnvironmentConfig{JournalDir: *journalDir, Flags: pagedb.FlagEnableRecovery})
	if err != nil {
		fmt.Fprintf(errOut, "pagedbctl recover: open: %v\n", err)
		return 1
	}
	defer env.Close()

	report := env.LastRecoveryReport()
	if report == nil {
		fmt.Fprintln(out, "store was shut down cleanly; no recovery was needed")
		return 0
	}
	fmt.Fprintf(out, "pages restored:    %d\n", report.PagesRestored)
	fmt.Fprintf(out, "ops replayed:      %d\n", report.OpsReplayed)
	fmt.Fprintf(out, "ops rolled back:   %d\n", report.OpsRolledBack)
	fmt.Fprintf(out, "txns rolled back:  %d\n", report.TxnsRolledBack)
	return 0
}

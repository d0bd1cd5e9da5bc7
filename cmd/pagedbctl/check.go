package main

import (
	"fmt"
	"os"

	"github.com/pagedb/pagedb"
)

func cmdCheck(out, errOut *os.File, args []string) int {
	fs, journalDir := commonFlags("check")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "pagedbctl check: expected a store path")
		return 2
	}
	path := fs.Arg(0)

	env, err := pagedb.Open(path, pagedb.EnvironmentConfig{JournalDir: *journalDir, Flags: pagedb.FlagEnableRecovery})
	if err != nil {
		fmt.Fprintf(errOut, "pagedbctl check: open: %v\n", err)
		return 1
	}
	defer env.Close()

	failed := 0
	for _, id := range env.Databases() {
		db, err := env.OpenDatabase(id)
		if err != nil {
			fmt.Fprintf(out, "database %d: FAIL: %v\n", id, err)
			failed++
			continue
		}
		if err := db.Check(); err != nil {
			fmt.Fprintf(out, "database %d (%s): FAIL: %v\n", id, db.Name(), err)
			failed++
			continue
		}
		fmt.Fprintf(out, "database %d (%s): OK\n", id, db.Name())
	}
	if failed > 0 {
		return 1
	}
	return 0
}

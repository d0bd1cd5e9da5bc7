package main

import (
	"fmt"
	"os"

	"github.com/pagedb/pagedb"
)

func cmdInfo(out, errOut *os.File, args []string) int {
	fs, journalDir := commonFlags("info")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "pagedbctl info: expected a store path")
		return 2
	}
	path := fs.Arg(0)

	env, err := pagedb.Open(path, pagedb.EnvironmentConfig{JournalDir: *journalDir, Flags: pagedb.FlagEnableRecovery})
	if err != nil {
		fmt.Fprintf(errOut, "pagedbctl info: open: %v\n", err)
		return 1
	}
	defer env.Close()

	ids := env.Databases()
	fmt.Fprintf(out, "%s: %d database(s)\n", path, len(ids))
	for _, id := range ids {
		db, err := env.OpenDatabase(id)
		if err != nil {
			fmt.Fprintf(out, "  %d: error: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "  %d: %q\n", id, db.Name())
	}
	return 0
}

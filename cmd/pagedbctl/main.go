// Command pagedbctl is a small operator tool for a pagedb store: checking
// index integrity, dumping the environment's database descriptor table,
// and running recovery on a store that was not shut down cleanly — the CLI surface spec §8 describes for an
// embedder that wants to inspect a store out-of-process.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	if len(args) == 0 {
		printUsage(out)
		return 2
	}
	switch args[0] {
	case "check":
		return cmdCheck(out, errOut, args[1:])
	case "info":
		return cmdInfo(out, errOut, args[1:])
	case "recover":
		return cmdRecover(out, errOut, args[1:])
	case "-h", "--help", "help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "pagedbctl: unknown command %q\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, `usage: pagedbctl <command> [flags]

commands:
  check    <path>   run the integrity check over every database
  info     <path>   print the database descriptor table
  recover  <path>   run recovery if the store needs it and print its report`)
}

func commonFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	journalDir := fs.String("journal-dir", "", "journal directory (default: <path>.journal)")
	return fs, journalDir
}

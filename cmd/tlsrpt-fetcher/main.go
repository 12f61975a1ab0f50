// Command tlsrpt-fetcher is the short-lived subprocess tlsrpt-reportd
// spawns to read a rolled-over collectd store. It speaks the line protocol
// documented in internal/fetcher over stdout and takes no configuration
// file of its own: everything it needs arrives as CLI arguments from its
// caller (spec.md §4.2).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/andreasschulze/tlsrpt-reporter/internal/exitcode"
	"github.com/andreasschulze/tlsrpt-reporter/internal/fetcher"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	if len(args) < 2 || len(args) > 3 {
		fmt.Fprintln(stderr, "usage: tlsrpt-fetcher <storage-url> <day> [domain]")
		return exitcode.Usage
	}
	url, day := args[0], args[1]

	todayPath, ok := sqlitePath(url)
	if !ok {
		fmt.Fprintf(stderr, "unsupported storage url %q\n", url)
		return exitcode.Usage
	}
	// The fetcher never reads the live "today" store: it opens the
	// store a prior collectd rollover renamed to "yesterday" (spec.md §4.2).
	path := store.MakeYesterdayDBName(todayPath)

	f, err := fetcher.Open(path)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitcode.Other
	}
	defer f.Close()

	if len(args) == 2 {
		if err := f.ListDomains(stdout, day); err != nil {
			fmt.Fprintln(stderr, err)
			return exitcode.Other
		}
		return exitcode.OK
	}

	domain := args[2]
	if err := f.DomainDetails(stdout, day, domain); err != nil {
		fmt.Fprintln(stderr, err)
		return exitcode.Other
	}
	return exitcode.OK
}

// sqlitePath extracts a filesystem path from a "sqlite:" storage URL. It is
// the fetcher-side half of the collectd/fetcher built-in shortcut described
// in spec.md §4.9.3: a fetcher only ever reads the SQLite backend, so it
// does not need the full plugin registry.
func sqlitePath(url string) (string, bool) {
	const prefix = "sqlite:"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

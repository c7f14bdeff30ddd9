/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Command zonec is the zone compiler CLI of spec.md section 6:
//
//	zonec [-v] [-f <db-file>] [-d <chdir>] <zone-list-file>
//
// It reads a zone list file (one "<origin> <kind> <zonefile>" entry per
// line), compiles every listed zone file, and writes the resulting
// database image. Exit status is 0 on success, 1 on any compilation or
// I/O error, matching the teacher's cmd binaries' plain success/failure
// convention.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ns-collective/authnsd/core"
)

func main() {
	var (
		verbose bool
		dbFile  string
		chdir   string
	)
	pflag.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pflag.StringVarP(&dbFile, "file", "f", "zones.db", "output database file")
	pflag.StringVarP(&chdir, "directory", "d", "", "change to this directory before reading zone files")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: zonec [-v] [-f <db-file>] [-d <chdir>] <zone-list-file>")
		os.Exit(1)
	}
	listFile := pflag.Arg(0)

	if chdir != "" {
		if err := os.Chdir(chdir); err != nil {
			fmt.Fprintf(os.Stderr, "zonec: %v\n", err)
			os.Exit(1)
		}
	}

	entries, err := readZoneList(listFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zonec: %v\n", err)
		os.Exit(1)
	}

	tree := core.NewTree()
	zones := make(map[string]*core.Zone)
	failed := false

	for _, e := range entries {
		if verbose {
			fmt.Fprintf(os.Stderr, "zonec: compiling %s from %s\n", e.origin, e.file)
		}
		kind := core.KindPrimary
		if e.kind == "secondary" {
			kind = core.KindSecondary
		}

		f, err := os.Open(e.file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "zonec: %s: %v\n", e.origin, err)
			failed = true
			continue
		}
		zone, errs := core.CompileZoneFile(tree, e.origin, kind, f)
		f.Close()

		for _, ze := range errs {
			fmt.Fprintf(os.Stderr, "zonec: %s: %v\n", e.origin, ze)
		}
		if len(errs) > 0 {
			failed = true
			continue
		}
		zones[zone.Origin] = zone
	}

	if failed {
		os.Exit(1)
	}

	if err := core.SaveAtomic(dbFile, zones); err != nil {
		fmt.Fprintf(os.Stderr, "zonec: writing %s: %v\n", dbFile, err)
		os.Exit(1)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "zonec: wrote %d zone(s) to %s\n", len(zones), dbFile)
	}
}

type zoneListEntry struct {
	origin, kind, file string
}

// readZoneList parses the zone list file format: whitespace-separated
// "<origin> <kind> <zonefile>" per line, blank lines and "#" comments
// ignored (spec.md section 5, "Zone list file").
func readZoneList(path string) ([]zoneListEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	var entries []zoneListEntry
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected \"<origin> <kind> <zonefile>\"", path, line)
		}
		zf := fields[2]
		if !filepath.IsAbs(zf) {
			zf = filepath.Join(base, zf)
		}
		entries = append(entries, zoneListEntry{origin: fields[0], kind: fields[1], file: zf})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

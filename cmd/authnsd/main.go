/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Command authnsd is the authoritative name server of spec.md section 6:
//
//	authnsd [-4] [-6] [-a <address>] [-c <configfile>] [-d] [-f <database>]
//	        [-n <count>] [-p <port>] [-P <pidfile>] [-V <level>]
//
// Exit status is 0 on a clean shutdown, 1 on a startup error, 2 on a
// command-line usage error — the same three-way split the teacher's
// Shutdowner path and NSD's own CLI convention both use.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/miekg/dns"
	"github.com/spf13/pflag"

	"github.com/ns-collective/authnsd/core"
	"github.com/ns-collective/authnsd/ctlapi"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		ipv4only   bool
		ipv6only   bool
		address    string
		configFile string
		debug      bool
		dbFile     string
		numServers int
		port       int
		pidFile    string
		verbosity  int
	)
	pflag.BoolVarP(&ipv4only, "ipv4", "4", false, "serve IPv4 only")
	pflag.BoolVarP(&ipv6only, "ipv6", "6", false, "serve IPv6 only")
	pflag.StringVarP(&address, "address", "a", "0.0.0.0", "server address")
	pflag.StringVarP(&configFile, "config", "c", "/etc/authnsd/authnsd.conf", "config file")
	pflag.BoolVarP(&debug, "debug", "d", false, "run in the foreground, do not daemonize")
	pflag.StringVarP(&dbFile, "file", "f", "", "compiled zone database file")
	pflag.IntVarP(&numServers, "servers", "n", 1, "number of server goroutine sets")
	pflag.IntVarP(&port, "port", "p", 53, "server port")
	pflag.StringVarP(&pidFile, "pidfile", "P", "/var/run/authnsd.pid", "pid file")
	pflag.IntVarP(&verbosity, "verbosity", "V", 1, "verbosity level")
	pflag.Parse()

	if ipv4only && ipv6only {
		fmt.Fprintln(os.Stderr, "authnsd: -4 and -6 are mutually exclusive")
		return 2
	}
	if dbFile == "" {
		fmt.Fprintln(os.Stderr, "authnsd: -f <database> is required")
		return 2
	}

	cfg, err := core.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authnsd: %v\n", err)
		return 1
	}

	logger := core.NewLogger(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
	flags := &core.Flags{Verbose: verbosity > 1, Debug: debug}
	if flags.Debug {
		logger.Printf("authnsd: debug mode, staying in the foreground")
	}
	if numServers > 1 {
		logger.Printf("authnsd: -n %d requested; this build serves one UDP and one TCP listener per address", numServers)
	}

	if err := writePidFile(pidFile); err != nil {
		logger.Printf("authnsd: pidfile: %v", err)
	}
	defer os.Remove(pidFile)

	tree := core.NewTree()
	dbf, err := os.Open(dbFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authnsd: opening %s: %v\n", dbFile, err)
		return 1
	}
	zones, err := core.Load(dbf, tree)
	dbf.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "authnsd: loading %s: %v\n", dbFile, err)
		return 1
	}
	logger.Printf("authnsd: loaded %d zone(s) from %s", len(zones), dbFile)

	keyring := cfg.TsigKeyring()
	for name, zc := range cfg.Zones {
		if z, ok := zones[dns.Fqdn(name)]; ok {
			if err := applyZoneConf(z, zc, keyring); err != nil {
				fmt.Fprintf(os.Stderr, "authnsd: %v\n", err)
				return 1
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := core.NewCoordinator(tree, logger, cfg.Db.JournalDir)
	for _, z := range zones {
		coord.AddZone(z)
	}
	go coord.Run(ctx)
	go core.NotifierEngine(logger, coord.NotifyChannel(), ctx.Done())

	bindAddr := fmt.Sprintf("%s:%d", address, port)
	srv := core.NewServer(bindAddr, tree, zones, coord, logger)

	ctl := &controlSource{tree: tree, zones: zones}
	ctlRouter := ctlapi.NewRouter(ctl)
	go func() {
		if err := httpServe(ctx, ":8053", ctlRouter); err != nil {
			logger.Printf("authnsd: control API stopped: %v", err)
		}
	}()

	installReloadHandler(ctx, logger, configFile, dbFile)

	logger.Printf("authnsd: serving on %s", bindAddr)
	if err := srv.Serve(ctx); err != nil {
		logger.Printf("authnsd: %v", err)
		return 1
	}
	logger.Printf("authnsd: shut down cleanly")
	return 0
}

func applyZoneConf(z *core.Zone, zc core.ZoneConf, kr core.TsigKeyring) error {
	z.Primaries = zc.Primaries
	z.Notify = zc.Notify
	key, err := zc.ResolveTsigKey(kr)
	if err != nil {
		return err
	}
	z.TsigKey = key
	return nil
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ns-collective/authnsd/core"
)

// installReloadHandler starts the SIGHUP watcher goroutine, grounded
// on ref_auth/main.go's own SIGHUP-triggered reload goroutine. On each
// SIGHUP the config file is re-read and validated and the outcome is
// logged; the new values are not applied to the running server, so
// logging, zone-primary and notify settings keep their startup values
// until a restart. Re-compiling zonefiles stays zonec's job, not the
// running server's.
func installReloadHandler(ctx context.Context, logger *log.Logger, configFile, dbFile string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if _, err := core.LoadConfig(configFile); err != nil {
					logger.Printf("authnsd: SIGHUP reload failed: %v", err)
					continue
				}
				logger.Printf("authnsd: config reloaded from %s", configFile)
			}
		}
	}()
}

/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ns-collective/authnsd/core"
	"github.com/ns-collective/authnsd/ctlapi"
)

// controlSource adapts the live zone set to ctlapi.StatusSource. Reload
// is deliberately a no-op placeholder: a real zone reload needs a
// zonefile path per zone, which arrives with a future config format;
// for now it just reports whether the zone is known.
type controlSource struct {
	mu    sync.RWMutex
	tree  *core.Tree
	zones map[string]*core.Zone
}

func (c *controlSource) ZoneStatuses() []ctlapi.ZoneStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ctlapi.ZoneStatus, 0, len(c.zones))
	for _, z := range c.zones {
		kind := "primary"
		if z.Kind == core.KindSecondary {
			kind = "secondary"
		}
		state := ""
		if z.Transfer != nil {
			st, _, _ := z.Transfer.Snapshot()
			state = st.String()
		}
		out = append(out, ctlapi.ZoneStatus{
			Origin: z.Origin,
			Kind:   kind,
			Serial: z.Serial,
			State:  state,
		})
	}
	return out
}

func (c *controlSource) ReloadZone(origin string) error {
	c.mu.RLock()
	_, ok := c.zones[origin]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown zone %q", origin)
	}
	return nil
}

// httpServe runs an http.Server until ctx is cancelled, then shuts it
// down, mirroring the graceful-shutdown shape core.Server.Serve uses
// for the DNS listeners.
func httpServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

// Flags carries the handful of process-wide toggles (verbose/debug
// logging) that every component's log calls consult. The teacher keeps
// these, and a great deal more (the current zone, the current parser,
// the whole zone registry), behind a single global tdns.Globals value;
// this server passes a *Flags explicitly to whatever needs it instead,
// since the tree, the zone set, and the compiler's parse state all have
// an obvious non-global owner already (Tree, Coordinator, the compiler
// call stack) and gain nothing from living behind a singleton.
type Flags struct {
	Verbose bool
	Debug   bool
}

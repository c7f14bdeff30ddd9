/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// dbMagic is the compiled-database image's fixed prefix (spec.md section
// 4.7). The version suffix follows the file format's own evolution, not
// this server's release version.
const dbMagic = "NSDdbV06"

// Save writes every zone in zones to w as one binary image: the magic
// prefix, a zone count, then per zone its origin, kind, serial, and
// every RRset (spec.md section 4.7, "Persistence").
func Save(w io.Writer, zones map[string]*Zone) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(dbMagic); err != nil {
		return err
	}
	if err := writeU32(bw, uint32(len(zones))); err != nil {
		return err
	}
	for _, z := range zones {
		if err := saveZone(bw, z); err != nil {
			return fmt.Errorf("Save: zone %s: %w", z.Origin, err)
		}
	}
	return bw.Flush()
}

func saveZone(w io.Writer, z *Zone) error {
	if err := writeString(w, z.Origin); err != nil {
		return err
	}
	if err := writeU32(w, uint32(z.Kind)); err != nil {
		return err
	}
	if err := writeU32(w, z.Serial); err != nil {
		return err
	}

	var rrsets []*RRset
	for _, id := range z.Tree.order {
		node := z.Tree.Node(id)
		if node == nil || !hasSuffix(node.Name, z.Origin) {
			continue
		}
		rrsets = append(rrsets, node.Types.ForZone(z)...)
	}

	if err := writeU32(w, uint32(len(rrsets))); err != nil {
		return err
	}
	for _, rs := range rrsets {
		if err := writeRRList(w, rs.RRs); err != nil {
			return err
		}
		if err := writeRRList(w, rs.RRSIGs); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a binary image written by Save, inserting every zone's data
// into tree and returning the reconstructed Zone set.
func Load(r io.Reader, tree *Tree) (map[string]*Zone, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(dbMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if string(magic) != dbMagic {
		return nil, fmt.Errorf("Load: bad magic %q, expected %q", magic, dbMagic)
	}

	count, err := readU32(br)
	if err != nil {
		return nil, err
	}

	zones := make(map[string]*Zone, count)
	for i := uint32(0); i < count; i++ {
		z, err := loadZone(br, tree)
		if err != nil {
			return nil, fmt.Errorf("Load: zone %d: %w", i, err)
		}
		zones[z.Origin] = z
	}
	return zones, nil
}

func loadZone(r io.Reader, tree *Tree) (*Zone, error) {
	origin, err := readString(r)
	if err != nil {
		return nil, err
	}
	kind, err := readU32(r)
	if err != nil {
		return nil, err
	}
	serial, err := readU32(r)
	if err != nil {
		return nil, err
	}

	z := NewZone(tree, origin, ZoneKind(kind))
	z.Serial = serial

	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		rrs, err := readRRList(r)
		if err != nil {
			return nil, err
		}
		sigs, err := readRRList(r)
		if err != nil {
			return nil, err
		}
		if len(rrs) == 0 {
			continue
		}
		node := tree.Insert(rrs[0].Header().Name)
		rtype := rrs[0].Header().Rrtype
		rs := &RRset{Zone: z, Name: node.Name, RRtype: rtype, RRs: rrs, RRSIGs: sigs}
		tree.AddRRset(node, rs)
	}
	if err := finalizeZone(tree, z); err != nil {
		return nil, err
	}
	return z, nil
}

// SaveAtomic writes the database image to a temp file in the same
// directory as path and renames it into place, so a crash mid-write
// never corrupts the previous good image (spec.md section 4.7).
func SaveAtomic(path string, zones map[string]*Zone) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".db-*.tmp")
	if err != nil {
		return fmt.Errorf("SaveAtomic: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := Save(tmp, zones); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// CommitLog is the sqlite-backed bookkeeping table (SPEC_FULL.md section
// 2's DOMAIN STACK entry for mattn/go-sqlite3): it records, per zone, a
// last-committed serial and reads it back. Neither cmd/authnsd nor
// cmd/zonec opens one: startup loads the binary image without consulting
// a commit log and without replaying journal records (journal.go).
type CommitLog struct {
	db *sql.DB
}

func OpenCommitLog(path string) (*CommitLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("OpenCommitLog: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS last_commit (
		zone TEXT PRIMARY KEY,
		serial INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenCommitLog: schema: %w", err)
	}
	return &CommitLog{db: db}, nil
}

func (c *CommitLog) Close() error { return c.db.Close() }

func (c *CommitLog) RecordCommit(zone string, serial uint32) error {
	_, err := c.db.Exec(
		`INSERT INTO last_commit (zone, serial) VALUES (?, ?)
		 ON CONFLICT(zone) DO UPDATE SET serial = excluded.serial`,
		zone, serial,
	)
	return err
}

func (c *CommitLog) LastCommit(zone string) (uint32, bool, error) {
	var serial uint32
	err := c.db.QueryRow(`SELECT serial FROM last_commit WHERE zone = ?`, zone).Scan(&serial)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return serial, true, nil
}

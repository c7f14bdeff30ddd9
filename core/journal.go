/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/miekg/dns"
)

// journalMagic tags a journal file; spec.md section 4.7 names the
// database image's own magic ("NSDdbV06") but leaves the journal format
// unspecified beyond "durable, replayable log of applied diffs" — this
// prefix follows the same naming convention for the sibling file.
const journalMagic = "NSDjrV01"

// JournalRecord is one applied IXFR diff, durable before the in-memory
// tree is updated (spec.md section 4.5, "durability": a transfer is not
// considered complete until its diff is on disk).
type JournalRecord struct {
	OldSerial uint32
	NewSerial uint32
	Removed   []dns.RR
	Added     []dns.RR
}

// AppendJournal durably appends record to the zone's journal file,
// fsyncing before return so a crash immediately after can never lose an
// applied-but-unrecorded diff.
func AppendJournal(path string, rec JournalRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("AppendJournal: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if info.Size() == 0 {
		w.WriteString(journalMagic)
	}

	if err := writeU32(w, rec.OldSerial); err != nil {
		return err
	}
	if err := writeU32(w, rec.NewSerial); err != nil {
		return err
	}
	if err := writeRRList(w, rec.Removed); err != nil {
		return err
	}
	if err := writeRRList(w, rec.Added); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadJournal replays every record in path in order, for bringing a
// persisted zone image forward to the latest serial after a restart.
func ReadJournal(path string) ([]JournalRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadJournal: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(journalMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	if string(magic) != journalMagic {
		return nil, fmt.Errorf("ReadJournal: %s: bad magic", path)
	}

	var records []JournalRecord
	for {
		old, err := readU32(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		neu, err := readU32(r)
		if err != nil {
			return nil, err
		}
		removed, err := readRRList(r)
		if err != nil {
			return nil, err
		}
		added, err := readRRList(r)
		if err != nil {
			return nil, err
		}
		records = append(records, JournalRecord{OldSerial: old, NewSerial: neu, Removed: removed, Added: added})
	}
	return records, nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeRRList(w io.Writer, rrs []dns.RR) error {
	if err := writeU32(w, uint32(len(rrs))); err != nil {
		return err
	}
	for _, rr := range rrs {
		wire := []byte(rr.String() + "\n")
		if err := writeU32(w, uint32(len(wire))); err != nil {
			return err
		}
		if _, err := w.Write(wire); err != nil {
			return err
		}
	}
	return nil
}

func readRRList(r io.Reader) ([]dns.RR, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]dns.RR, 0, n)
	for i := uint32(0); i < n; i++ {
		l, err := readU32(r)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		rr, err := dns.NewRR(string(buf))
		if err != nil {
			return nil, fmt.Errorf("readRRList: %w", err)
		}
		out = append(out, rr)
	}
	return out, nil
}

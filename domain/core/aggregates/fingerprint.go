package aggregates

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"graphsync/domain/core/entities"
)

// Fingerprint is an order-independent content hash of a snapshot.
type Fingerprint uint64

func (f Fingerprint) String() string {
	return strconv.FormatUint(uint64(f), 16)
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// computeFingerprint expects entities and relations already sorted.
func computeFingerprint(ents []entities.Entity, rels []entities.Relation) Fingerprint {
	d := xxhash.New()
	for _, e := range ents {
		_, _ = d.WriteString("E" + fieldSep + e.Name + fieldSep + e.Role + fieldSep + e.Location +
			fieldSep + e.Contact + fieldSep + strconv.FormatInt(e.CreatedAt.Millis(), 10) + recordSep)
	}
	for _, r := range rels {
		_, _ = d.WriteString("R" + fieldSep + r.Source + fieldSep + r.Target + fieldSep +
			strconv.FormatInt(r.CreatedAt.Millis(), 10) + fieldSep + r.Note + recordSep)
	}
	return Fingerprint(d.Sum64())
}

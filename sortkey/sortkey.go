// Package sortkey implements the composite ordering key used to order
// messages within a process: blockHeight,timestamp,hash.
package sortkey

import (
	"fmt"
	"strconv"
	"strings"
)

// heightWidth is the left-pad width for the block-height field. Padding to
// a fixed width makes lexicographic string comparison equivalent to numeric
// comparison over block height.
const heightWidth = 12

// MinCollationChar is the sentinel ordinate used on cold start: the lowest
// byte value any real ordinate must compare greater than.
const MinCollationChar = "\x00"

// Ordinate is the lexicographically sortable monotonic position derived
// from a SortKey's nonce; used as a tiebreak when timestamps collide.
type Ordinate string

// ColdStartOrdinate is the distinguished sentinel used when no cache or
// checkpoint exists.
const ColdStartOrdinate Ordinate = MinCollationChar

// SortKey is a canonicalized "blockHeight,timestamp,hash" string. Values
// produced by Canonicalize are safe to compare with Compare and to persist;
// values obtained any other way should be passed through Canonicalize first.
type SortKey string

// Parts is a SortKey split into its typed fields. Timestamp and Hash are
// absent (zero value) for partial keys.
type Parts struct {
	Height    uint64
	Timestamp uint64
	Hash      string
	// NFields records how many comma-separated fields were present in the
	// source key (1, 2, or 3) so Compare and IncrementBound can tell a
	// height-only key apart from one that merely has an empty hash field.
	NFields int
}

// Split parses a SortKey (canonical or not) into its typed fields.
func Split(s string) (Parts, error) {
	fields := strings.Split(s, ",")
	if len(fields) == 0 || len(fields) > 3 {
		return Parts{}, fmt.Errorf("sortkey: %q: expected 1-3 comma-separated fields", s)
	}
	height, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Parts{}, fmt.Errorf("sortkey: %q: bad block height: %w", s, err)
	}
	p := Parts{Height: height, NFields: len(fields)}
	if len(fields) >= 2 {
		ts, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return Parts{}, fmt.Errorf("sortkey: %q: bad timestamp: %w", s, err)
		}
		p.Timestamp = ts
	}
	if len(fields) == 3 {
		p.Hash = strings.TrimSpace(fields[2])
	}
	return p, nil
}

// Canonicalize left-pads the block-height field to 12 digits, leaving any
// timestamp/hash fields untouched. It is idempotent:
// Canonicalize(Canonicalize(s)) == Canonicalize(s).
func Canonicalize(s string) (SortKey, error) {
	p, err := Split(s)
	if err != nil {
		return "", err
	}
	return p.canonical(), nil
}

func (p Parts) canonical() SortKey {
	height := fmt.Sprintf("%0*d", heightWidth, p.Height)
	switch p.NFields {
	case 1:
		return SortKey(height)
	case 2:
		return SortKey(fmt.Sprintf("%s,%d", height, p.Timestamp))
	default:
		return SortKey(fmt.Sprintf("%s,%d,%s", height, p.Timestamp, p.Hash))
	}
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b: numerically by height, then numerically by timestamp, then byte-wise
// by hash. A missing timestamp counts as 0 and a missing hash as "". The
// fields are compared one by one because only the height is padded, so
// the canonical strings alone do not sort numerically by timestamp.
func Compare(a, b string) (int, error) {
	pa, err := Split(a)
	if err != nil {
		return 0, err
	}
	pb, err := Split(b)
	if err != nil {
		return 0, err
	}
	switch {
	case pa.Height < pb.Height, pa.Height == pb.Height && pa.Timestamp < pb.Timestamp:
		return -1, nil
	case pa.Height > pb.Height, pa.Timestamp > pb.Timestamp:
		return 1, nil
	}
	return strings.Compare(pa.Hash, pb.Hash), nil
}

// IncrementBound implements the `to`-bound adjustment rule: when a bound
// names only a block height, the caller must bump it by one so that
// interactions in the terminal block are included (the Message Source
// otherwise treats `to` as exclusive). Keys that already carry a timestamp
// or hash are returned unchanged.
func IncrementBound(s string) (SortKey, error) {
	p, err := Split(s)
	if err != nil {
		return "", err
	}
	if p.NFields != 1 {
		return p.canonical(), nil
	}
	p.Height++
	return p.canonical(), nil
}

// TieBreak carries the fields needed to order two messages whose sortKeys
// resolve to the same position: timestamp first, then an (optional)
// cron-interval tag, ascending, with the empty string sorting before any
// non-empty interval.
type TieBreak struct {
	Timestamp    uint64
	CronInterval string
}

// IsLaterThan reports whether a is strictly later than b under the
// timestamp-then-cron-interval tie-break rule (§4.A).
func IsLaterThan(a, b TieBreak) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.CronInterval > b.CronInterval
}

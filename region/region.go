// Package region contains the types describing a table region (a contiguous
// key range owned by exactly one server at a time) and the server location
// currently serving it.
package region

import (
	"bytes"
	"fmt"
)

// Info identifies a region: the table it belongs to, its key range and the
// generation marker assigned when the region boundary was learned from the
// catalog. StartKey is inclusive, EndKey is exclusive; an empty EndKey means
// the range is open-ended. Info values are immutable once constructed.
type Info struct {
	Table    []byte
	StartKey []byte
	EndKey   []byte

	// Generation distinguishes successive assignments of the same range. It
	// is an opaque token compared for equality only, except that a larger
	// generation supersedes overlapping cache entries with smaller ones.
	Generation uint64
}

// Contains returns whether key falls within the region's range.
func (i Info) Contains(key []byte) bool {
	if bytes.Compare(key, i.StartKey) < 0 {
		return false
	}
	return len(i.EndKey) == 0 || bytes.Compare(key, i.EndKey) < 0
}

// Overlaps returns whether the two regions' ranges intersect. Regions from
// different tables never overlap.
func (i Info) Overlaps(o Info) bool {
	if !bytes.Equal(i.Table, o.Table) {
		return false
	}
	if len(i.EndKey) != 0 && bytes.Compare(i.EndKey, o.StartKey) <= 0 {
		return false
	}
	if len(o.EndKey) != 0 && bytes.Compare(o.EndKey, i.StartKey) <= 0 {
		return false
	}
	return true
}

func (i Info) String() string {
	end := "<open>"
	if len(i.EndKey) > 0 {
		end = string(i.EndKey)
	}
	return fmt.Sprintf("%s:[%s,%s) gen=%d", i.Table, i.StartKey, end, i.Generation)
}

// Location pairs a region with the address of the server currently serving
// it. A Location is learned either from a catalog lookup or from location
// metadata piggybacked on a successful call response.
type Location struct {
	Region Info
	Addr   string
}

func (l Location) String() string {
	return fmt.Sprintf("%s @ %s", l.Region, l.Addr)
}

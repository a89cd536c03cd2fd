package extend

import (
	"math"
	"math/bits"
)

const (
	// PageSize is the unit writeback quotas are expressed in.
	PageSize = 4096

	// MinWritebackPages is the 4 MiB minimal writeback chunk in pages.
	MinWritebackPages = (4 << 20) / PageSize

	// MaxNrToWrite requests an unthrottled, explicit sync.
	MaxNrToWrite = math.MaxInt64

	// NiceXattr holds a file's writeback niceness.
	NiceXattr = "user.wbnice"

	maxNiceLen = 256
	maxNice    = 255
)

// WritebackControl describes one writeback pass over a file.
type WritebackControl struct {
	// NrToWrite is the page quota for the pass.
	NrToWrite int64
}

// WritebackFile is the file a writeback pass runs on.
type WritebackFile interface {
	Path() string
	// GetXattr returns the named extended attribute, ok is false when the
	// attribute is not set.
	GetXattr(name string) (value []byte, ok bool)
}

// LimitWriteback scales wbc.NrToWrite down by the file's niceness and
// returns the new quota. Files without a usable user.wbnice, explicit syncs
// and mounts without wbnice keep the quota as is.
//
// The quota becomes round_down(NrToWrite/roundup_pow2(nice) + 4MiB, 4MiB)
// counted in pages, so a pass always writes at least one minimal chunk.
func (c *Config) LimitWriteback(f WritebackFile, wbc *WritebackControl) int64 {
	opts, enabled := c.writebackPolicy()
	if !opts.Has(OptWBNice) || enabled == 0 {
		return wbc.NrToWrite
	}

	// No limitation on explicit synchronization
	if wbc.NrToWrite == MaxNrToWrite {
		return wbc.NrToWrite
	}

	value, ok := f.GetXattr(NiceXattr)
	if !ok || len(value) == 0 || len(value) >= maxNiceLen {
		return wbc.NrToWrite
	}

	n := parseLeadingUint(value)
	if n == 0 {
		return wbc.NrToWrite
	}
	nice := int64(min(n, maxNice))

	before := wbc.NrToWrite
	pages := wbc.NrToWrite / roundupPowOfTwo(nice)
	if pages > MaxNrToWrite-MinWritebackPages {
		pages = MaxNrToWrite - MinWritebackPages
	}
	wbc.NrToWrite = roundDown(pages+MinWritebackPages, MinWritebackPages)

	logger.Trace("Writeback quota for %q: nice=%d nr_to_write %d -> %d",
		f.Path(), nice, before, wbc.NrToWrite)
	if c.observer != nil {
		c.observer.ObserveWriteback(f.Path(), before, wbc.NrToWrite)
	}
	return wbc.NrToWrite
}

// roundupPowOfTwo returns the smallest power of two >= n, n in [1, 255].
func roundupPowOfTwo(n int64) int64 {
	return 1 << bits.Len64(uint64(n-1))
}

// roundDown rounds x down to a multiple of align, a power of two.
func roundDown(x, align int64) int64 {
	return x &^ (align - 1)
}

// parseLeadingUint parses the longest valid unsigned number at the start of
// b, detecting the base from a "0x" or "0" prefix like simple_strtoul. It
// stops at the first invalid digit and returns 0 when nothing parses.
// Values past the uint64 range saturate.
func parseLeadingUint(b []byte) uint64 {
	base := uint64(10)
	if len(b) > 0 && b[0] == '0' {
		if len(b) > 2 && (b[1] == 'x' || b[1] == 'X') && hexDigit(b[2]) >= 0 {
			base, b = 16, b[2:]
		} else {
			base = 8
		}
	}

	var v uint64
	for _, ch := range b {
		d := hexDigit(ch)
		if d < 0 || uint64(d) >= base {
			break
		}
		hi, lo := bits.Mul64(v, base)
		sum, carry := bits.Add64(lo, uint64(d), 0)
		if hi != 0 || carry != 0 {
			return math.MaxUint64
		}
		v = sum
	}
	return v
}

func hexDigit(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	}
	return -1
}

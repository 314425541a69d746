package live

import "github.com/cuemby/scanarchiver/pkg/writer"

// partitionBuffer accumulates rows for one partition path until a flush
// threshold is crossed or a UTC-day boundary forces an early flush.
type partitionBuffer struct {
	rows     []writer.Row
	byteSize int64
}

func (b *partitionBuffer) add(row writer.Row, approxSize int64) {
	b.rows = append(b.rows, row)
	b.byteSize += approxSize
}

func (b *partitionBuffer) exceeds(rowThreshold int, byteThreshold int64) bool {
	if rowThreshold > 0 && len(b.rows) >= rowThreshold {
		return true
	}
	if byteThreshold > 0 && b.byteSize >= byteThreshold {
		return true
	}
	return false
}

func (b *partitionBuffer) empty() bool {
	return len(b.rows) == 0
}

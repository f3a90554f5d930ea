package evbuf

import "encoding/binary"

// Merge appends the records of a and b to dst in timestamp order. On equal
// timestamps the record from a comes first. Both inputs must be non-empty;
// callers special-case the empty input by copying or joining instead.
//
// Capacity and ordering are checked before anything is written, so a failed
// merge leaves dst untouched. The read cursors of a and b are not moved.
func Merge(dst, a, b *Buffer) error {
	if dst == a || dst == b {
		return ErrSelfJoin
	}
	for _, buf := range [...]*Buffer{dst, a, b} {
		if err := buf.Validate(); err != nil {
			return err
		}
	}
	if a.Empty() || b.Empty() {
		return ErrEmptyInput
	}

	sa, sb, sd := a.storage(), b.storage(), dst.storage()
	if sd == sa || sd == sb {
		return ErrSelfJoin
	}
	if sa.size+sb.size > len(sd.data)-sd.size {
		return ErrNoCapacity
	}
	first := min(firstTime(sa), firstTime(sb))
	if sd.count > 0 && first < sd.latest {
		return ErrOutOfOrder
	}

	pa, pb := 0, 0
	for pa < sa.size || pb < sb.size {
		takeA := pb >= sb.size ||
			(pa < sa.size && firstTimeAt(sa, pa) <= firstTimeAt(sb, pb))
		if takeA {
			pa = copyRecord(sd, sa, pa)
		} else {
			pb = copyRecord(sd, sb, pb)
		}
	}
	return nil
}

func firstTime(a *arena) uint64 {
	return firstTimeAt(a, 0)
}

func firstTimeAt(a *arena, pos int) uint64 {
	return binary.LittleEndian.Uint64(a.data[pos+tsOffset:])
}

// copyRecord copies the record at pos in src to the end of dst and returns
// the position of the next record in src. Capacity is pre-checked by Merge.
func copyRecord(dst, src *arena, pos int) int {
	size := int(binary.LittleEndian.Uint32(src.data[pos+sizeOffset:]))
	n := HeaderSize + size
	copy(dst.data[dst.size:], src.data[pos:pos+n])
	dst.size += n
	dst.count++
	dst.latest = firstTimeAt(src, pos)
	return pos + n
}

// Copy appends every record of src to dst. Like Merge it checks capacity
// and ordering first and leaves dst untouched on failure. Copying an empty
// src is a no-op.
func Copy(dst, src *Buffer) error {
	if dst == src {
		return ErrSelfJoin
	}
	for _, buf := range [...]*Buffer{dst, src} {
		if err := buf.Validate(); err != nil {
			return err
		}
	}
	ss, sd := src.storage(), dst.storage()
	if ss.count == 0 {
		return nil
	}
	if ss == sd {
		return ErrSelfJoin
	}
	if ss.size > len(sd.data)-sd.size {
		return ErrNoCapacity
	}
	if sd.count > 0 && firstTime(ss) < sd.latest {
		return ErrOutOfOrder
	}
	for pos := 0; pos < ss.size; {
		pos = copyRecord(sd, ss, pos)
	}
	return nil
}

package evbuf

// Kind is the closed set of port buffer kinds
type Kind uint8

const (
	KindAudio Kind = iota
	KindControl
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindControl:
		return "control"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// CanJoin reports whether a buffer of kind a may alias one of kind b.
// Only event buffers support zero-copy joining.
func CanJoin(a, b Kind) bool {
	return a == KindEvent && b == KindEvent
}

// Join makes b an alias over other's storage for zero-copy pass-through.
// Writes through either buffer are visible through both. A buffer joins at
// most one other buffer at a time; joining a joined buffer follows it to
// the owning storage.
func (b *Buffer) Join(other *Buffer) error {
	if b.alias != nil {
		return ErrAlreadyJoined
	}
	if b.released {
		return ErrReleased
	}
	target := other
	if other.alias != nil {
		if other.storage() == nil {
			return ErrStaleAlias
		}
		target = other.alias
	}
	if target == b {
		return ErrSelfJoin
	}
	if target.released {
		return ErrReleased
	}

	b.alias = target
	b.aliasGen = target.gen
	b.readPos = 0
	return nil
}

// Unjoin restores private storage and empties it
func (b *Buffer) Unjoin() {
	if b.alias == nil {
		return
	}
	b.alias = nil
	b.aliasGen = 0
	b.Reset()
}

// IsJoined reports whether the buffer aliases another buffer
func (b *Buffer) IsJoined() bool {
	return b.alias != nil
}

package codec

// Limits bounds a single serialization/deserialization run. Zero value
// means "no limit" for that field, matching the source's convention of
// treating a zero limit as unbounded.
type Limits struct {
	// StringLimit caps the byte length of any single string. Exceeding
	// it is a StringLimit failure (fails only the current message).
	StringLimit uint32
	// StringMaxLimit is the hard ceiling the CRC length envelope itself
	// is checked against before StringLimit is even consulted. A length
	// prefix decoding to something above StringMaxLimit is always a
	// StringMaxLimit failure regardless of StringLimit.
	StringMaxLimit uint32
	// ContainerLimit/ContainerMaxLimit mirror the string pair for
	// sequence/mapping/set container element counts.
	ContainerLimit    uint32
	ContainerMaxLimit uint32
	// StreamLimit caps total bytes read/written across all chunks of a
	// single stream. StreamChunkMaxLimit caps a single chunk's length
	// field (independent of the wire format's 0x7FFE hard ceiling).
	StreamLimit         uint64
	StreamChunkMaxLimit uint32
}

// DefaultLimits returns generous but finite limits. A Serializer or
// Deserializer constructed with these, rather than with the zero
// Limits value (which means no limit), never runs unbounded on hostile
// or corrupt input.
func DefaultLimits() Limits {
	return Limits{
		StringLimit:         1 << 20,
		StringMaxLimit:      1 << 24,
		ContainerLimit:      1 << 16,
		ContainerMaxLimit:   1 << 20,
		StreamLimit:         1 << 30,
		StreamChunkMaxLimit: maxStreamChunkLen,
	}
}

func (l Limits) checkString(n uint32) error {
	if l.StringMaxLimit != 0 && n > l.StringMaxLimit {
		return newErr(StringMaxLimit, "string length exceeds hard ceiling")
	}
	if l.StringLimit != 0 && n > l.StringLimit {
		return newErr(StringLimit, "string length exceeds configured limit")
	}
	return nil
}

func (l Limits) checkContainer(n uint32) error {
	if l.ContainerMaxLimit != 0 && n > l.ContainerMaxLimit {
		return newErr(ContainerMaxLimit, "container size exceeds hard ceiling")
	}
	if l.ContainerLimit != 0 && n > l.ContainerLimit {
		return newErr(ContainerLimit, "container size exceeds configured limit")
	}
	return nil
}

func (l Limits) checkStreamChunk(n uint32) error {
	if l.StreamChunkMaxLimit != 0 && n > l.StreamChunkMaxLimit {
		return newErr(StreamChunkMaxLimit, "stream chunk length exceeds hard ceiling")
	}
	return nil
}

func (l Limits) checkStreamTotal(total uint64) error {
	if l.StreamLimit != 0 && total > l.StreamLimit {
		return newErr(StreamLimit, "stream total bytes exceeds configured limit")
	}
	return nil
}

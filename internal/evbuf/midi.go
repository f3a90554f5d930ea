package evbuf

// MIDI status bytes (upper nibble; the lower nibble is the channel)
const (
	StatusNoteOff       byte = 0x80
	StatusNoteOn        byte = 0x90
	StatusControlChange byte = 0xB0
	StatusPitchBend     byte = 0xE0

	// ControllerAllNotesOff is the channel mode message that releases every voice
	ControllerAllNotesOff byte = 0x7B
)

// Message is a fixed-size channel voice message. Returning arrays keeps the
// helpers allocation-free on the audio thread.
type Message [3]byte

// NoteOn builds a note-on message
func NoteOn(channel, note, velocity uint8) Message {
	return Message{StatusNoteOn | channel&0x0F, note & 0x7F, velocity & 0x7F}
}

// NoteOff builds a note-off message with zero release velocity
func NoteOff(channel, note uint8) Message {
	return Message{StatusNoteOff | channel&0x0F, note & 0x7F, 0}
}

// AllNotesOff builds the all-notes-off controller message
func AllNotesOff(channel uint8) Message {
	return Message{StatusControlChange | channel&0x0F, ControllerAllNotesOff, 0}
}

// Status returns the status nibble of msg, or 0 for an empty message
func Status(msg []byte) byte {
	if len(msg) == 0 {
		return 0
	}
	return msg[0] & 0xF0
}

// Channel returns the channel of a channel voice message
func Channel(msg []byte) uint8 {
	if len(msg) == 0 {
		return 0
	}
	return msg[0] & 0x0F
}

// IsNoteOn reports a note-on with non-zero velocity
func IsNoteOn(msg []byte) bool {
	return len(msg) >= 3 && Status(msg) == StatusNoteOn && msg[2] > 0
}

// IsNoteOff reports a note-off, including note-on with zero velocity
func IsNoteOff(msg []byte) bool {
	if len(msg) < 3 {
		return false
	}
	s := Status(msg)
	return s == StatusNoteOff || (s == StatusNoteOn && msg[2] == 0)
}

// IsAllNotesOff reports the all-notes-off controller message
func IsAllNotesOff(msg []byte) bool {
	return len(msg) >= 3 && Status(msg) == StatusControlChange && msg[1] == ControllerAllNotesOff
}

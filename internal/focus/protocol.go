package focus

import (
	"encoding/binary"
	"fmt"
)

// Message types and the fixed check word (spec.md §6.3).
const (
	MsgFocusBegin = 1
	MsgFocusEnd   = 2
	MsgFocusMove  = 3
	MsgFocusLimit = 4

	checkWord = 0xFEDCBA98
)

// Message is a decoded focus-control UDP datagram.
type Message struct {
	Type    byte
	Manual  bool    // FOCUS_BEGIN
	Success int8    // FOCUS_END
	FWHM    uint16  // FOCUS_END, x0.01 px
	Step    int32   // FOCUS_MOVE
}

// Decode parses one datagram per spec.md §6.3. Any type other than the
// four known ones, or a mismatched check word, is dropped (returns
// ok=false).
func Decode(buf []byte) (Message, bool) {
	if len(buf) < 5 {
		return Message{}, false
	}
	msgType := buf[0]
	check := binary.LittleEndian.Uint32(buf[1:5])
	if check != checkWord {
		return Message{}, false
	}

	m := Message{Type: msgType}
	switch msgType {
	case MsgFocusBegin:
		if len(buf) < 6 {
			return Message{}, false
		}
		m.Manual = buf[5] != 0
	case MsgFocusEnd:
		if len(buf) < 8 {
			return Message{}, false
		}
		m.Success = int8(buf[5])
		m.FWHM = binary.LittleEndian.Uint16(buf[6:8])
	case MsgFocusMove:
		if len(buf) < 9 {
			return Message{}, false
		}
		m.Step = int32(binary.LittleEndian.Uint32(buf[5:9]))
	case MsgFocusLimit:
		// no payload
	default:
		return Message{}, false
	}
	return m, true
}

// EncodeBegin builds a FOCUS_BEGIN datagram.
func EncodeBegin(manual bool) []byte {
	buf := header(MsgFocusBegin, 1)
	if manual {
		buf[5] = 1
	}
	return buf
}

// EncodeEnd builds a FOCUS_END datagram. fwhm is in pixels; the wire
// format is x0.01 px.
func EncodeEnd(success int8, fwhmPx float64) []byte {
	buf := header(MsgFocusEnd, 3)
	buf[5] = byte(success)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(fwhmPx*100+0.5))
	return buf
}

// EncodeMove builds a FOCUS_MOVE datagram.
func EncodeMove(step int32) []byte {
	buf := header(MsgFocusMove, 4)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(step))
	return buf
}

// EncodeLimit builds a FOCUS_LIMIT datagram.
func EncodeLimit() []byte {
	return header(MsgFocusLimit, 0)
}

func header(msgType byte, payloadLen int) []byte {
	buf := make([]byte, 5+payloadLen)
	buf[0] = msgType
	binary.LittleEndian.PutUint32(buf[1:5], checkWord)
	return buf
}

func (m Message) String() string {
	switch m.Type {
	case MsgFocusBegin:
		return fmt.Sprintf("FOCUS_BEGIN{manual=%v}", m.Manual)
	case MsgFocusEnd:
		return fmt.Sprintf("FOCUS_END{success=%d,fwhm=%.2f}", m.Success, float64(m.FWHM)/100)
	case MsgFocusMove:
		return fmt.Sprintf("FOCUS_MOVE{step=%d}", m.Step)
	case MsgFocusLimit:
		return "FOCUS_LIMIT{}"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", m.Type)
	}
}

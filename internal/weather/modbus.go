package weather

import "encoding/binary"

// Field-bus addresses for the three queries this poller issues. These
// are simple MODBUS-style slave addresses; the exact device layout is
// site-specific but the framing is fixed by spec.md §4.4.
const (
	addrTHP  byte = 0x66
	addrWind byte = 0xC8
	addrRain byte = 0x01
)

const modbusReadHolding = 0x03

// buildModbusQuery constructs a fixed binary MODBUS-style read-holding
// query for addr requesting nFields 16-bit registers, CRC16 appended.
func buildModbusQuery(addr byte, nFields int) []byte {
	frame := []byte{addr, modbusReadHolding, 0x00, 0x00, 0x00, byte(nFields)}
	crc := crc16(frame)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))
	return frame
}

// ParseResponse validates and extracts the data payload from a MODBUS
// response frame: [addr, 0x03, len, data..., crc_lo, crc_hi]. It is
// accepted iff data[2] (len) equals expectedFields (spec.md §8's
// "MODBUS response" invariant) and the trailing CRC16 matches.
func ParseResponse(frame []byte, expectedFields int) ([]byte, bool) {
	if len(frame) < 5 {
		return nil, false
	}
	length := int(frame[2])
	if length != expectedFields {
		return nil, false
	}
	total := 3 + length + 2
	if len(frame) < total {
		return nil, false
	}
	body := frame[:total]
	data := body[3 : 3+length]
	gotCRC := uint16(body[total-2]) | uint16(body[total-1])<<8
	wantCRC := crc16(body[:total-2])
	if gotCRC != wantCRC {
		return nil, false
	}
	return data, true
}

// ParseTHP decodes the 6-byte THP payload: T = i16BE*0.01degC (returned
// as 0.1degC units), RH = u16BE*0.01% (returned as 0.1% units),
// P = u16BE*0.1hPa.
//
// Concrete scenario (spec.md §8): data 0B B8 13 88 27 10 -> T=30.00C,
// RH=50.00%, P=1000.0hPa.
func ParseTHP(data []byte) (tenthC int16, tenthRH uint16, tenthHPa uint16) {
	tRaw := int16(binary.BigEndian.Uint16(data[0:2])) // hundredths of degC
	rhRaw := binary.BigEndian.Uint16(data[2:4])        // hundredths of %
	pRaw := binary.BigEndian.Uint16(data[4:6])         // tenths of hPa already

	tenthC = tRaw / 10   // hundredths -> tenths
	tenthRH = rhRaw / 10 // hundredths -> tenths
	tenthHPa = pRaw
	return
}

// ParseWind decodes the 4-byte wind payload: speed = u16BE*0.01 m/s
// (returned as 0.1 m/s units), direction = u16BE*1deg (returned as
// 0.1deg units, 0=north).
//
// Concrete scenario (spec.md §8): data 01 F4 00 5A -> speed=5.00 m/s,
// dir=90deg.
func ParseWind(data []byte) (tenthSpeed uint16, tenthDir uint16) {
	speedRaw := binary.BigEndian.Uint16(data[0:2]) // hundredths of m/s
	dirRaw := binary.BigEndian.Uint16(data[2:4])   // whole degrees

	tenthSpeed = speedRaw / 10
	tenthDir = dirRaw * 10
	return
}

// ParseRain decodes the 2-byte rain payload: 0x0001 => rainy, 0x0000 =>
// dry.
func ParseRain(data []byte) uint8 {
	v := binary.BigEndian.Uint16(data[0:2])
	if v == 0x0001 {
		return 1
	}
	return 0
}

// crc16 computes the MODBUS CRC16 (poly 0xA001, init 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

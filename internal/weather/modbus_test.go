package weather

import "testing"

func TestParseTHP(t *testing.T) {
	frame := []byte{0x66, 0x03, 0x06, 0x0B, 0xB8, 0x13, 0x88, 0x27, 0x10, 0x90, 0xB5}
	data, ok := ParseResponse(frame, 6)
	if !ok {
		t.Fatalf("expected valid THP frame")
	}
	tenthC, tenthRH, tenthHPa := ParseTHP(data)
	if tenthC != 300 {
		t.Errorf("T = %d, want 300 (30.00C)", tenthC)
	}
	if tenthRH != 500 {
		t.Errorf("RH = %d, want 500 (50.00%%)", tenthRH)
	}
	if tenthHPa != 10000 {
		t.Errorf("P = %d, want 10000 (1000.0 hPa)", tenthHPa)
	}
}

func TestParseWind(t *testing.T) {
	frame := []byte{0xC8, 0x03, 0x04, 0x01, 0xF4, 0x00, 0x5A, 0x63, 0x0A}
	data, ok := ParseResponse(frame, 4)
	if !ok {
		t.Fatalf("expected valid wind frame")
	}
	speed, dir := ParseWind(data)
	if speed != 50 {
		t.Errorf("speed = %d, want 50 (5.00 m/s)", speed)
	}
	if dir != 900 {
		t.Errorf("dir = %d, want 900 (90deg)", dir)
	}
}

func TestParseRain(t *testing.T) {
	wet := []byte{0x01, 0x03, 0x02, 0x00, 0x01, 0x79, 0x84}
	data, ok := ParseResponse(wet, 2)
	if !ok {
		t.Fatalf("expected valid rain frame (wet)")
	}
	if ParseRain(data) != 1 {
		t.Errorf("expected rainfall=1")
	}

	dry := []byte{0x01, 0x03, 0x02, 0x00, 0x00, 0xB8, 0x44}
	data, ok = ParseResponse(dry, 2)
	if !ok {
		t.Fatalf("expected valid rain frame (dry)")
	}
	if ParseRain(data) != 0 {
		t.Errorf("expected rainfall=0")
	}
}

func TestParseResponseRejectsWrongFieldCount(t *testing.T) {
	// THP-shaped frame but queried expecting wind's 4 fields.
	frame := []byte{0x66, 0x03, 0x06, 0x0B, 0xB8, 0x13, 0x88, 0x27, 0x10, 0x90, 0xB5}
	if _, ok := ParseResponse(frame, 4); ok {
		t.Errorf("expected rejection when data[2] != expectedFields")
	}
}

func TestParseResponseRejectsBadCRC(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x02, 0x00, 0x01, 0x00, 0x00}
	if _, ok := ParseResponse(frame, 2); ok {
		t.Errorf("expected rejection on CRC mismatch")
	}
}

func TestBuildModbusQueryRoundTrips(t *testing.T) {
	q := buildModbusQuery(addrRain, 2)
	if len(q) != 8 {
		t.Fatalf("query length = %d, want 8", len(q))
	}
	if q[0] != addrRain || q[5] != 2 {
		t.Errorf("unexpected query framing: % x", q)
	}
}

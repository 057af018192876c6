package sqm

import "testing"

func TestParseReply(t *testing.T) {
	reply := []byte("r, 06.70m,0000022921Hz,0000000020c,0000000.000s, 039.4C")
	padded := make([]byte, replyLen)
	copy(padded, reply)

	mag, ok := ParseReply(padded)
	if !ok {
		t.Fatalf("expected a valid parse")
	}
	if mag != 670 {
		t.Errorf("mag = %d, want 670 (6.70 mag/arcsec^2)", mag)
	}
}

func TestParseReplyRejectsShort(t *testing.T) {
	if _, ok := ParseReply([]byte("short")); ok {
		t.Errorf("expected rejection of too-short reply")
	}
}

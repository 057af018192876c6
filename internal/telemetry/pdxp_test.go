package telemetry

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/salmingo/wemon-public/internal/models"
)

func makeZones(n int) []models.Zone {
	zones := make([]models.Zone, n)
	for i := range zones {
		zones[i] = models.Zone{Az: float64(i), El: 45.0, Level: i % 10}
	}
	return zones
}

func TestBuildShardingCount(t *testing.T) {
	snap := Snapshot{
		Weather:    models.WeatherSample{State: models.StateNotConnected},
		Sky:        models.SkySample{State: models.StateNotConnected},
		Cloud:      models.CloudMap{State: models.StateOK, Zones: makeZones(216)},
		SnapshotAt: time.Now(),
	}
	packets := Build(snap, 42, 72, 1, 0)
	if len(packets) != 3 {
		t.Fatalf("packet count = %d, want 3", len(packets))
	}
	for i, pkt := range packets {
		version, sourceID, block, packetNo, payloadLen, err := Decode(pkt)
		if err != nil {
			t.Fatalf("decode packet %d: %v", i, err)
		}
		if version != protocolVersion {
			t.Errorf("packet %d: version = %#x", i, version)
		}
		if sourceID != 42 {
			t.Errorf("packet %d: sourceID = %d", i, sourceID)
		}
		if block != blockID {
			t.Errorf("packet %d: block = %#x", i, block)
		}
		if packetNo != 1 {
			t.Errorf("packet %d: packetNo = %d, want 1 (shared across every shard of one tick)", i, packetNo)
		}
		if int(payloadLen) != len(pkt)-headerSize {
			t.Errorf("packet %d: payloadLen = %d, actual = %d", i, payloadLen, len(pkt)-headerSize)
		}

		zoneCountOff := headerSize + zoneCountOffset
		zoneCount := binary.LittleEndian.Uint16(pkt[zoneCountOff : zoneCountOff+2])
		if i < 2 && zoneCount != 72 {
			t.Errorf("packet %d: zoneCount = %d, want 72", i, zoneCount)
		}
		if i == 2 && zoneCount != 72 {
			t.Errorf("packet %d (last): zoneCount = %d, want 72 (216%%72==0)", i, zoneCount)
		}

		packCountOff := headerSize + zoneCountOffset + 10 // zone_count(2)+azi_step(4)+alt_step(4)
		packCount := binary.LittleEndian.Uint16(pkt[packCountOff : packCountOff+2])
		if packCount != 3 {
			t.Errorf("packet %d: pack_count = %d, want 3", i, packCount)
		}
	}
}

func TestBuildSentinelsOnLostChannels(t *testing.T) {
	snap := Snapshot{
		Weather: models.WeatherSample{State: models.StateNotConnected},
		Sky:     models.SkySample{State: models.StateNoData},
		Cloud:   models.CloudMap{State: models.StateNotConnected},
	}
	packets := Build(snap, 1, 72, 1, 0)
	if len(packets) != 1 {
		t.Fatalf("packet count = %d, want 1 (empty zone set still emits one packet)", len(packets))
	}
	_, _, _, _, payloadLen, err := Decode(packets[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payloadLen == 0 {
		t.Errorf("expected non-zero fixed-prefix payload even with all channels down")
	}
}

func TestBuildTopLevelTimeUsesSiteLocalOffset(t *testing.T) {
	// Noon UTC, comfortably clear of a day boundary at a +8h offset.
	noon := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Weather:    models.WeatherSample{State: models.StateNotConnected},
		Sky:        models.SkySample{State: models.StateNotConnected},
		Cloud:      models.CloudMap{State: models.StateNotConnected},
		SnapshotAt: noon,
	}

	utcPkt := Build(snap, 1, 72, 1, 0)[0]
	localPkt := Build(snap, 1, 72, 1, 8)[0]

	utcTime := int32(binary.LittleEndian.Uint32(utcPkt[headerSize+4 : headerSize+8]))
	localTime := int32(binary.LittleEndian.Uint32(localPkt[headerSize+4 : headerSize+8]))

	wantDelta := int32(8 * 3600 * 10000) // 0.1ms units per hour
	if localTime-utcTime != wantDelta {
		t.Errorf("local-UTC time delta = %d, want %d (an 8h site offset)", localTime-utcTime, wantDelta)
	}
}

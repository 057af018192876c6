// Package telemetry implements the PDXP binary datagram (spec.md §6.1):
// a cadence-driven fusion of the weather, sky-quality and cloud-map
// twins into a fixed-layout little-endian frame, sharded across
// packets when the zone payload would overflow one UDP datagram.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/salmingo/wemon-public/internal/models"
)

const (
	protocolVersion = 0x8080
	blockID         = 0x50000001
	// headerSize is 16 bytes: version(2)+source-id(4)+block-id(4)+
	// packet-number(4)+payload-length(2). Spec.md §6.1 labels the header
	// "fixed 12 B" but its own offset table places payload-length at
	// off=14 size=2, which only fits a 16-byte header; the field table
	// is taken as authoritative (decision recorded in DESIGN.md).
	headerSize = 16
	zoneSize   = 10 // azi(i32) + alt(i32) + level(i16)

	// zoneCountOffset is the byte offset of the zone_count field within
	// the payload (i.e. relative to headerSize), per the fixed-prefix
	// layout of spec.md §6.1.
	zoneCountOffset = 51

	sentinelI16 = int16(math.MaxInt16)
	sentinelU16 = uint16(math.MaxUint16)
	sentinelI32 = int32(math.MaxInt32)
)

// epoch2000 is the reference date for the date(i32 days) field.
var epoch2000 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Snapshot is the fused input to Build: one copy-snapshot per channel,
// taken by the publisher without holding any producer lock.
type Snapshot struct {
	Weather    models.WeatherSample
	Sky        models.SkySample
	Cloud      models.CloudMap
	SnapshotAt time.Time
}

// dateTime splits t into the PDXP (days-since-epoch, tenths-of-ms-since-
// local-midnight) pair used by every timestamped sub-field. spec.md
// §6.1 states these are local-time fields, and the original derives
// them via UTC2DateTimeBJ/Now2DateTimeBJ (original_source/src/
// EnvMonitor.cpp:381,395,422) rather than raw UTC; tzOffsetHours is the
// site's fixed offset (config.Site.TZOffsetHours).
func dateTime(t time.Time, tzOffsetHours float64) (int32, int32) {
	if t.IsZero() {
		return sentinelI32, sentinelI32
	}
	local := t.UTC().Add(time.Duration(tzOffsetHours * float64(time.Hour)))
	days := int32(local.Sub(epoch2000).Hours() / 24)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	tenths := int32(local.Sub(midnight).Nanoseconds() / (100 * 1000))
	return days, tenths
}

func parseTS(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02T15:04:05.000Z", ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Build renders snap into one or more fire-and-forget UDP payloads,
// sharding the zone array at maxZonesPerPacket (spec.md §4.9, §9 zone
// sharding rule: ceil(N/maxZonesPerPacket) packets). Every shard of one
// cadence tick carries the same header packet-number and differs only
// in pack_no/zone_count (original_source/src/EnvMonitor.cpp:363,
// 448-460: pno is incremented once per upload_pdxp call, not per
// shard).
func Build(snap Snapshot, sourceID uint32, maxZonesPerPacket int, packetNo uint32, tzOffsetHours float64) [][]byte {
	if maxZonesPerPacket <= 0 {
		maxZonesPerPacket = 72
	}
	zones := snap.Cloud.Zones
	packCount := (len(zones) + maxZonesPerPacket - 1) / maxZonesPerPacket
	if packCount == 0 {
		packCount = 1
	}

	packets := make([][]byte, 0, packCount)
	for i := 0; i < packCount; i++ {
		lo := i * maxZonesPerPacket
		hi := lo + maxZonesPerPacket
		if hi > len(zones) {
			hi = len(zones)
		}
		shard := zones[lo:hi]
		packets = append(packets, buildPacket(snap, sourceID, packetNo, uint16(i+1), uint16(packCount), shard, tzOffsetHours))
	}
	return packets
}

func buildPacket(snap Snapshot, sourceID uint32, packetNo uint32, packNo, packCount uint16, zones []models.Zone, tzOffsetHours float64) []byte {
	payload := make([]byte, 0, 64+len(zones)*zoneSize)

	now := snap.SnapshotAt
	if now.IsZero() {
		now = time.Now()
	}
	fdate, ftime := dateTime(now, tzOffsetHours)
	payload = appendI32(payload, fdate)
	payload = appendI32(payload, ftime)

	w := snap.Weather
	payload = append(payload, w.State.Byte())
	wDate, wTime := int32(sentinelI32), int32(sentinelI32)
	if w.State == models.StateOK {
		wDate, wTime = dateTime(parseTS(w.TS), tzOffsetHours)
	}
	payload = appendI32(payload, wDate)
	payload = appendI32(payload, wTime)
	if w.State == models.StateOK {
		payload = appendI16(payload, w.TenthC)
		payload = appendU16(payload, w.TenthRH)
		payload = appendU16(payload, w.TenthHPa)
		payload = appendU16(payload, w.WindSpeed)
		payload = appendU16(payload, w.WindDir)
	} else {
		payload = appendI16(payload, sentinelI16)
		payload = appendU16(payload, sentinelU16)
		payload = appendU16(payload, sentinelU16)
		payload = appendU16(payload, sentinelU16)
		payload = appendU16(payload, sentinelU16)
	}
	if w.RainState == models.StateOK {
		payload = appendU16(payload, uint16(w.Rain))
	} else {
		payload = appendU16(payload, sentinelU16)
	}

	cloudPct := sentinelU16
	if snap.Cloud.State == models.StateOK {
		cloudPct = snap.Cloud.CloudPercentTenths()
	}
	payload = appendU16(payload, cloudPct)

	sky := snap.Sky
	payload = append(payload, sky.State.Byte())
	skyDate, skyTime := int32(sentinelI32), int32(sentinelI32)
	if sky.State == models.StateOK {
		skyDate, skyTime = dateTime(parseTS(sky.TS), tzOffsetHours)
	}
	payload = appendI32(payload, skyDate)
	payload = appendI32(payload, skyTime)
	if sky.State == models.StateOK {
		payload = appendI16(payload, sky.MPSAS)
	} else {
		payload = appendI16(payload, sentinelI16)
	}

	cloud := snap.Cloud
	payload = append(payload, cloud.State.Byte())
	cDate, cTime := int32(sentinelI32), int32(sentinelI32)
	if cloud.State == models.StateOK {
		cDate, cTime = dateTime(parseTS(cloud.TS), tzOffsetHours)
	}
	payload = appendI32(payload, cDate)
	payload = appendI32(payload, cTime)

	payload = appendU16(payload, uint16(len(zones)))
	if cloud.State == models.StateOK {
		payload = appendU32(payload, uint32(cloud.AzStep*10+0.5))
		payload = appendU32(payload, uint32(cloud.ElStep*10+0.5))
	} else {
		payload = appendU32(payload, uint32(sentinelI32))
		payload = appendU32(payload, uint32(sentinelI32))
	}
	payload = appendU16(payload, packCount)
	payload = appendU16(payload, packNo)

	for _, z := range zones {
		payload = appendI32(payload, int32(z.Az*10+0.5))
		payload = appendI32(payload, int32(z.El*10+0.5))
		payload = appendI16(payload, int16(z.Level))
	}

	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], protocolVersion)
	binary.LittleEndian.PutUint32(buf[2:6], sourceID)
	binary.LittleEndian.PutUint32(buf[6:10], blockID)
	binary.LittleEndian.PutUint32(buf[10:14], packetNo)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

func appendI16(b []byte, v int16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(v))
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// Decode parses one PDXP packet's header for diagnostic mirrors
// (SPEC_FULL.md §4.10/§4.11); it does not reinterpret the payload.
func Decode(buf []byte) (version uint16, sourceID uint32, block uint32, packetNo uint32, payloadLen uint16, err error) {
	if len(buf) < headerSize {
		return 0, 0, 0, 0, 0, fmt.Errorf("telemetry: short packet (%d bytes)", len(buf))
	}
	version = binary.LittleEndian.Uint16(buf[0:2])
	sourceID = binary.LittleEndian.Uint32(buf[2:6])
	block = binary.LittleEndian.Uint32(buf[6:10])
	packetNo = binary.LittleEndian.Uint32(buf[10:14])
	payloadLen = binary.LittleEndian.Uint16(buf[14:16])
	return version, sourceID, block, packetNo, payloadLen, nil
}

package camera

import (
	"time"

	"github.com/salmingo/wemon-public/internal/config"
)

// FITSHeader carries the keywords spec.md §4.7 requires in every frame.
// The FITS library itself is an opaque image-file writer (spec.md §1);
// Writer is the boundary this package programs against.
type FITSHeader struct {
	CCDType   string
	DateObs   time.Time
	TimeEnd   time.Time
	JD        float64
	ExpTimeS  float64
	Gain      int
	TempSetC  float64
	TempActC  float64
	TermType  string
	TelFocus  int32
	FrameNo   int64
	DevID     uint32
	SiteName  string
	SiteLon   float64
	SiteLat   float64
	SiteAlt   float64
}

// Writer is the opaque FITS image-file writer boundary.
type Writer interface {
	// WriteFITS writes pixels (w*h, row-major uint16) with hdr to path.
	WriteFITS(path string, pixels []uint16, w, h int, hdr FITSHeader) error
}

// julianDate returns the Julian Date for t, used for the JD header
// keyword (spec.md §4.7).
func julianDate(t time.Time) float64 {
	u := t.UTC()
	a := (14 - int(u.Month())) / 12
	y := u.Year() + 4800 - a
	m := int(u.Month()) + 12*a - 3
	jdn := u.Day() + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
	dayFrac := (float64(u.Hour()-12) + float64(u.Minute())/60 + float64(u.Second())/3600) / 24
	return float64(jdn) + dayFrac
}

func buildHeader(site config.Site, frameNo int64, dateObs, timeEnd time.Time, expSec float64, gain int, tempSetC, tempActC float64, telFocus int32) FITSHeader {
	return FITSHeader{
		CCDType:  "CCD",
		DateObs:  dateObs,
		TimeEnd:  timeEnd,
		JD:       julianDate(dateObs),
		ExpTimeS: expSec,
		Gain:     gain,
		TempSetC: tempSetC,
		TempActC: tempActC,
		TermType: "TEC",
		TelFocus: telFocus,
		FrameNo:  frameNo,
		DevID:    site.DeviceID,
		SiteName: site.SiteName,
		SiteLon:  site.Longitude,
		SiteLat:  site.Latitude,
		SiteAlt:  site.AltitudeM,
	}
}

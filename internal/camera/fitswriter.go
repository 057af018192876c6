package camera

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// BasicWriter is a minimal FITS primary-HDU writer: fixed 80-byte
// cards padded to a 2880-byte header block, followed by big-endian
// 16-bit data padded to the next 2880-byte boundary. Unsigned pixel
// values are stored via the standard BZERO=32768 offset since FITS
// BITPIX=16 is signed.
//
// No example repo ships a FITS library (this domain has none in the
// corpus), so this is written directly against the FITS 4.0 standard's
// primary-HDU layout rather than an ecosystem package.
type BasicWriter struct{}

func (BasicWriter) WriteFITS(path string, pixels []uint16, w, h int, hdr FITSHeader) error {
	if len(pixels) != w*h {
		return fmt.Errorf("fits: pixel count %d does not match %dx%d", len(pixels), w, h)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fits: create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := writeHeader(bw, w, h, hdr); err != nil {
		return err
	}
	if err := writeData(bw, pixels); err != nil {
		return err
	}
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, nx, ny int, hdr FITSHeader) error {
	cards := []string{
		card("SIMPLE", "T", "conforms to FITS standard"),
		card("BITPIX", "16", "16-bit signed integer, offset by BZERO"),
		card("NAXIS", "2", "2-dimensional image"),
		card("NAXIS1", fmt.Sprintf("%d", nx), "columns"),
		card("NAXIS2", fmt.Sprintf("%d", ny), "rows"),
		card("BZERO", "32768", "unsigned 16-bit offset"),
		card("BSCALE", "1", ""),
		cardStr("CCDTYPE", hdr.CCDType, ""),
		cardStr("DATE-OBS", hdr.DateObs.UTC().Format("2006-01-02T15:04:05.000"), "UTC exposure start"),
		cardStr("TIME-END", hdr.TimeEnd.UTC().Format("2006-01-02T15:04:05.000"), "UTC exposure end"),
		cardF("JD", hdr.JD, "Julian date at DATE-OBS"),
		cardF("EXPTIME", hdr.ExpTimeS, "exposure time, seconds"),
		card("GAIN", fmt.Sprintf("%d", hdr.Gain), ""),
		cardF("CCD-TEMP", hdr.TempActC, "actual sensor temperature, C"),
		cardF("SET-TEMP", hdr.TempSetC, "cooler setpoint, C"),
		cardStr("TERMTYPE", hdr.TermType, ""),
		card("FOCUS", fmt.Sprintf("%d", hdr.TelFocus), "focuser position"),
		card("FRAMENO", fmt.Sprintf("%d", hdr.FrameNo), ""),
		card("DEVID", fmt.Sprintf("%d", hdr.DevID), ""),
		cardStr("SITE", hdr.SiteName, ""),
		cardF("SITELONG", hdr.SiteLon, "site longitude, deg E"),
		cardF("SITELAT", hdr.SiteLat, "site latitude, deg N"),
		cardF("SITEALT", hdr.SiteAlt, "site altitude, m"),
		"END" + spaces(80-3),
	}

	var block []byte
	for _, c := range cards {
		block = append(block, []byte(c)...)
	}
	pad := (2880 - len(block)%2880) % 2880
	block = append(block, bytes(' ', pad)...)
	_, err := w.Write(block)
	return err
}

func writeData(w *bufio.Writer, pixels []uint16) error {
	buf := make([]byte, len(pixels)*2)
	for i, p := range pixels {
		// FITS BITPIX=16 is signed; store (value - 32768) per BZERO.
		signed := int16(int32(p) - 32768)
		binary.BigEndian.PutUint16(buf[i*2:], uint16(signed))
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	pad := (2880 - len(buf)%2880) % 2880
	if pad == 0 {
		return nil
	}
	_, err := w.Write(bytes(0, pad))
	return err
}

func card(key, value, comment string) string {
	return formatCard(key, value, comment, false)
}

func cardStr(key, value, comment string) string {
	return formatCard(key, "'"+value+"'", comment, false)
}

func cardF(key string, value float64, comment string) string {
	return formatCard(key, fmt.Sprintf("%.6f", value), comment, false)
}

func formatCard(key, value, comment string, _ bool) string {
	line := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		line += " / " + comment
	}
	if len(line) > 80 {
		line = line[:80]
	}
	return line + spaces(80-len(line))
}

func spaces(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func bytes(v byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

package camera

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/salmingo/wemon-public/internal/models"
)

// defaultSex etc. are the minimal fixed configuration files materialised
// once before the first star-extractor invocation (spec.md §6.6). The
// 5x5 Gaussian convolution mask is hardcoded for FWHM=3 px, an
// unresolved design question per spec.md §9, carried as-is rather than
// made site-adjustable.
const (
	defaultSex = `CATALOG_TYPE     ASCII
DETECT_TYPE      CCD
DETECT_MINAREA   3
DETECT_THRESH    3.0
FILTER           Y
FILTER_NAME      default.conv
PARAMETERS_NAME  default.param
STARNNW_NAME     default.nnw
`
	defaultParam = `X_IMAGE
Y_IMAGE
ELONGATION
ISOAREA_IMAGE
FWHM_IMAGE
THETA_IMAGE
FLUX_ISO
FLUXERR_ISO
FLUX_MAX
MAG_ISO
MAGERR_ISO
`
	defaultConv = `CONV NORM
# 5x5 Gaussian mask, FWHM = 3 pixels
0.0219 0.0983 0.1621 0.0983 0.0219
0.0983 0.4416 0.7284 0.4416 0.0983
0.1621 0.7284 1.0000 0.7284 0.1621
0.0983 0.4416 0.7284 0.4416 0.0983
0.0219 0.0983 0.1621 0.0983 0.0219
`
	defaultNNW = `NNW
1 10 10 1

 1.0e10

`
)

// Extractor invokes the external star-extractor binary, capping
// concurrency at one child at a time (spec.md §9).
type Extractor struct {
	exePath string
	tempDir string
	mu      sync.Mutex
}

func NewExtractor(exePath, tempDir string) (*Extractor, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("camera: create extractor temp dir: %w", err)
	}
	e := &Extractor{exePath: exePath, tempDir: tempDir}
	if err := e.materialiseConfig(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Extractor) materialiseConfig() error {
	files := map[string]string{
		"default.sex":   defaultSex,
		"default.param": defaultParam,
		"default.conv":  defaultConv,
		"default.nnw":   defaultNNW,
	}
	for name, content := range files {
		path := filepath.Join(e.tempDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("camera: write %s: %w", name, err)
		}
	}
	return nil
}

// Extract runs the extractor against fitsPath and returns the parsed,
// unfiltered star list. A non-zero exit or an unreadable catalogue
// returns an error; catalogue lines that do not hold 11 numeric
// columns are skipped. The caller skips a failed frame rather than
// retrying (spec.md §7 data-integrity policy).
func (e *Extractor) Extract(ctx context.Context, fitsPath string) ([]models.Star, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	catPath := filepath.Join(e.tempDir, "out.cat")
	cmd := exec.CommandContext(ctx, e.exePath, fitsPath, "-CATALOG_NAME", catPath)
	cmd.Dir = e.tempDir
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("camera: star extractor failed: %w", err)
	}
	defer os.Remove(catPath)

	return parseCatalog(catPath)
}

// parseCatalog reads the whitespace-separated ASCII catalogue of
// spec.md §6.6: x y elong area fwhm theta flux fluxErr fluxMax mag magErr.
func parseCatalog(path string) ([]models.Star, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camera: open catalogue: %w", err)
	}
	defer f.Close()

	var stars []models.Star
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 11 {
			continue
		}
		vals := make([]float64, 11)
		ok := true
		for i, f := range fields[:11] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		s := models.Star{
			X:          vals[0],
			Y:          vals[1],
			Elongation: vals[2],
			Area:       vals[3],
			FWHM:       vals[4],
			Theta:      vals[5],
			Flux:       vals[6],
			FluxErr:    vals[7],
			FluxMax:    vals[8],
			Mag:        vals[9],
			MagErr:     vals[10],
		}
		if s.FluxErr > 0 {
			s.SNR = s.Flux / s.FluxErr
		}
		stars = append(stars, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("camera: scan catalogue: %w", err)
	}
	return stars, nil
}

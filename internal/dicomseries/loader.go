// Package dicomseries loads CT series stored as one DICOM file per slice.
package dicomseries

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctalign/internal/models"
	"ctalign/pkg/volume"
)

// ErrNoSlices is returned when a directory holds no readable DICOM slices.
var ErrNoSlices = errors.New("dicomseries: no DICOM slices found")

// Loader reads every DICOM file of a directory into a volume.
type Loader struct {
	// Workers bounds the number of files parsed at once. Zero means
	// runtime.NumCPU().
	Workers int

	// SeriesUID selects one series when the directory holds several. Empty
	// picks the series with the most slices.
	SeriesUID string

	Logger *logrus.Logger
}

// LoadDir reads the CT series in dir with default settings.
func LoadDir(dir string, logger *logrus.Logger) (*volume.Image, error) {
	return (&Loader{Logger: logger}).Load(dir)
}

func (l *Loader) log() *logrus.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return logrus.StandardLogger()
}

// Load parses the files of dir in parallel, keeps one series and stacks it
// into a volume. Files that are not DICOM are skipped with a warning.
func (l *Loader) Load(dir string) (*volume.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	slices := l.readAll(files)
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}

	series, err := l.pickSeries(slices)
	if err != nil {
		return nil, err
	}
	im, err := series.Volume()
	if err != nil {
		return nil, err
	}
	l.log().WithFields(logrus.Fields{
		"dir":     dir,
		"slices":  len(series.Slices),
		"size":    im.Size,
		"spacing": im.Spacing,
	}).Info("Loaded DICOM series")
	return im, nil
}

// readAll parses files concurrently. Unreadable files are logged and
// dropped.
func (l *Loader) readAll(files []string) []*models.Slice {
	workers := l.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	type readResult struct {
		slice *models.Slice
		path  string
		err   error
	}
	jobs := make(chan string)
	resultChan := make(chan readResult)
	for w := 0; w < workers; w++ {
		go func() {
			for path := range jobs {
				s, err := ReadSlice(path)
				resultChan <- readResult{slice: s, path: path, err: err}
			}
		}()
	}
	go func() {
		for _, f := range files {
			jobs <- f
		}
		close(jobs)
	}()

	var slices []*models.Slice
	for completed := 0; completed < len(files); completed++ {
		res := <-resultChan
		if res.err != nil {
			l.log().WithError(res.err).WithField("file", res.path).Warn("Skipping file")
			continue
		}
		slices = append(slices, res.slice)
	}
	return slices
}

// pickSeries groups slices by series UID.
func (l *Loader) pickSeries(slices []*models.Slice) (*models.Series, error) {
	groups := make(map[string][]*models.Slice)
	for _, s := range slices {
		groups[s.SeriesUID] = append(groups[s.SeriesUID], s)
	}

	if l.SeriesUID != "" {
		g, ok := groups[l.SeriesUID]
		if !ok {
			return nil, fmt.Errorf("%w: series %s not present", ErrNoSlices, l.SeriesUID)
		}
		return &models.Series{Slices: g}, nil
	}

	uids := make([]string, 0, len(groups))
	for uid := range groups {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	best := uids[0]
	for _, uid := range uids[1:] {
		if len(groups[uid]) > len(groups[best]) {
			best = uid
		}
	}
	if len(groups) > 1 {
		l.log().WithFields(logrus.Fields{
			"series":   len(groups),
			"selected": best,
			"slices":   len(groups[best]),
		}).Warn("Directory holds several series")
	}
	return &models.Series{Slices: groups[best]}, nil
}

// ReadSlice parses one DICOM file and converts its pixels to HU.
func ReadSlice(path string) (*models.Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	s := &models.Slice{
		Path:           path,
		SeriesUID:      stringValue(ds, tag.SeriesInstanceUID),
		InstanceNumber: int(floatValue(ds, tag.InstanceNumber, 0)),
		Thickness:      floatValue(ds, tag.SliceThickness, 0),
		Rows:           int(floatValue(ds, tag.Rows, 0)),
		Columns:        int(floatValue(ds, tag.Columns, 0)),
		Orientation:    [6]float64{1, 0, 0, 0, 1, 0},
		PixelSpacing:   [2]float64{1, 1},
	}
	if s.InstanceNumber == 0 {
		s.InstanceNumber = extractNumber(path)
	}
	if v := floatValues(ds, tag.ImagePositionPatient); len(v) == 3 {
		copy(s.Position[:], v)
	}
	if v := floatValues(ds, tag.ImageOrientationPatient); len(v) == 6 {
		copy(s.Orientation[:], v)
	}
	if v := floatValues(ds, tag.PixelSpacing); len(v) == 2 {
		copy(s.PixelSpacing[:], v)
	}

	img, err := pixelImage(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b := img.Bounds()
	if s.Rows == 0 || s.Columns == 0 {
		s.Rows, s.Columns = b.Dy(), b.Dx()
	}

	signed := floatValue(ds, tag.PixelRepresentation, 0) == 1
	slope := floatValue(ds, tag.RescaleSlope, 1)
	intercept := floatValue(ds, tag.RescaleIntercept, 0)
	s.Pixels = toHU(img, signed, slope, intercept)
	return s, nil
}

// pixelImage returns the first frame of the pixel data.
func pixelImage(ds dicom.Dataset) (image.Image, error) {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value %T", el.Value.GetValue())
	}
	if len(info.Frames) == 0 {
		return nil, errors.New("pixel data has no frames")
	}
	return info.Frames[0].GetImage()
}

// toHU converts stored pixel values to Hounsfield units, reinterpreting
// 16-bit samples as two's complement when the data is signed.
func toHU(img image.Image, signed bool, slope, intercept float64) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var raw float64
			switch px := img.(type) {
			case *image.Gray16:
				v := px.Gray16At(x, y).Y
				if signed {
					raw = float64(int16(v))
				} else {
					raw = float64(v)
				}
			case *image.Gray:
				raw = float64(px.GrayAt(x, y).Y)
			default:
				r, _, _, _ := img.At(x, y).RGBA()
				raw = float64(r)
			}
			out = append(out, raw*slope+intercept)
		}
	}
	return out
}

func stringValue(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if s, ok := el.Value.GetValue().([]string); ok && len(s) > 0 {
		return strings.TrimSpace(s[0])
	}
	return ""
}

func floatValue(ds dicom.Dataset, t tag.Tag, fallback float64) float64 {
	if v := floatValues(ds, t); len(v) > 0 {
		return v[0]
	}
	return fallback
}

// floatValues reads numeric or decimal-string values of a tag.
func floatValues(ds dicom.Dataset, t tag.Tag) []float64 {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	return parseFloats(el.Value.GetValue())
}

func parseFloats(v interface{}) []float64 {
	var out []float64
	switch vals := v.(type) {
	case []string:
		for _, s := range vals {
			for _, part := range strings.Split(s, `\`) {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return nil
				}
				out = append(out, f)
			}
		}
	case []int:
		for _, i := range vals {
			out = append(out, float64(i))
		}
	case []float64:
		out = append(out, vals...)
	}
	return out
}

// extractNumber returns the digits of a file name as a number, for files
// without an instance number.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}
	if numStr != "" {
		if num, err := strconv.Atoi(numStr); err == nil {
			return num
		}
	}
	return 0
}

package volume

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// NRRD is the on-disk format for volumes and masks. Only single-file,
// three-dimensional scalar images with raw or gzip encoding are handled.

var nrrdTypes = map[string]PixelType{
	"uchar": UInt8, "unsigned char": UInt8, "uint8": UInt8, "uint8_t": UInt8,
	"short": Int16, "short int": Int16, "signed short": Int16, "int16": Int16, "int16_t": Int16,
	"ushort": UInt16, "unsigned short": UInt16, "uint16": UInt16, "uint16_t": UInt16,
	"int": Int32, "signed int": Int32, "int32": Int32, "int32_t": Int32,
	"float": Float32,
	"double": Float64,
}

var nrrdTypeNames = map[PixelType]string{
	UInt8:   "uint8",
	Int16:   "int16",
	UInt16:  "uint16",
	Int32:   "int32",
	Float32: "float",
	Float64: "double",
}

// ReadNRRD loads a volume from path.
func ReadNRRD(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	im, err := DecodeNRRD(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return im, nil
}

// DecodeNRRD parses an attached-header NRRD stream. Physical coordinates are
// converted to LPS when the file declares a RAS space.
func DecodeNRRD(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)

	magic, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("nrrd: missing magic: %w", err)
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, fmt.Errorf("nrrd: bad magic %q", strings.TrimSpace(magic))
	}

	fields := map[string]string{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("nrrd: truncated header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// key:=value lines are key/value pairs, not fields.
		if strings.HasPrefix(value, "=") {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	if dim := fields["dimension"]; dim != "3" {
		return nil, fmt.Errorf("nrrd: only 3D images are supported, dimension %q", dim)
	}
	pt, ok := nrrdTypes[strings.ToLower(fields["type"])]
	if !ok {
		return nil, fmt.Errorf("nrrd: unsupported type %q", fields["type"])
	}

	var size [3]int
	sizes := strings.Fields(fields["sizes"])
	if len(sizes) != 3 {
		return nil, fmt.Errorf("nrrd: bad sizes %q", fields["sizes"])
	}
	for d, s := range sizes {
		if size[d], err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("nrrd: bad sizes %q: %w", fields["sizes"], err)
		}
	}

	im := New(size, pt)
	if err := parseNRRDGeometry(im, fields); err != nil {
		return nil, err
	}

	var order binary.ByteOrder = binary.LittleEndian
	if fields["endian"] == "big" {
		order = binary.BigEndian
	}

	var data io.Reader = br
	switch enc := fields["encoding"]; enc {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("nrrd: %w", err)
		}
		defer zr.Close()
		data = zr
	default:
		return nil, fmt.Errorf("nrrd: unsupported encoding %q", enc)
	}

	if err := readSamples(data, order, im); err != nil {
		return nil, fmt.Errorf("nrrd: reading samples: %w", err)
	}
	return im, nil
}

func parseNRRDGeometry(im *Image, fields map[string]string) error {
	if dirs, ok := fields["space directions"]; ok {
		vecs, err := parseVectors(dirs)
		if err != nil || len(vecs) != 3 {
			return fmt.Errorf("nrrd: bad space directions %q", dirs)
		}
		for c, v := range vecs {
			norm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
			if norm == 0 {
				return fmt.Errorf("nrrd: zero space direction %d", c)
			}
			im.Spacing[c] = norm
			for r := 0; r < 3; r++ {
				im.Direction[r*3+c] = v[r] / norm
			}
		}
	} else if sp, ok := fields["spacings"]; ok {
		parts := strings.Fields(sp)
		if len(parts) != 3 {
			return fmt.Errorf("nrrd: bad spacings %q", sp)
		}
		for d, s := range parts {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("nrrd: bad spacings %q: %w", sp, err)
			}
			im.Spacing[d] = v
		}
	}

	if o, ok := fields["space origin"]; ok {
		vecs, err := parseVectors(o)
		if err != nil || len(vecs) != 1 {
			return fmt.Errorf("nrrd: bad space origin %q", o)
		}
		im.Origin = vecs[0]
	}

	switch strings.ToLower(fields["space"]) {
	case "right-anterior-superior", "ras":
		for _, r := range []int{0, 1} {
			im.Origin[r] = -im.Origin[r]
			for c := 0; c < 3; c++ {
				im.Direction[r*3+c] = -im.Direction[r*3+c]
			}
		}
	}
	return nil
}

// parseVectors reads "(a,b,c) (d,e,f)" lists.
func parseVectors(s string) ([][3]float64, error) {
	var out [][3]float64
	for _, tok := range strings.Fields(s) {
		if tok == "none" {
			continue
		}
		tok = strings.Trim(tok, "()")
		parts := strings.Split(tok, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("bad vector %q", tok)
		}
		var v [3]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, err
			}
			v[i] = f
		}
		out = append(out, v)
	}
	return out, nil
}

func readSamples(r io.Reader, order binary.ByteOrder, im *Image) error {
	br := bufio.NewReaderSize(r, 1<<16)
	for i := range im.Data {
		var v float64
		switch im.PixelType {
		case UInt8:
			b, err := br.ReadByte()
			if err != nil {
				return err
			}
			v = float64(b)
		case Int16:
			var x int16
			if err := binary.Read(br, order, &x); err != nil {
				return err
			}
			v = float64(x)
		case UInt16:
			var x uint16
			if err := binary.Read(br, order, &x); err != nil {
				return err
			}
			v = float64(x)
		case Int32:
			var x int32
			if err := binary.Read(br, order, &x); err != nil {
				return err
			}
			v = float64(x)
		case Float32:
			var x float32
			if err := binary.Read(br, order, &x); err != nil {
				return err
			}
			v = float64(x)
		case Float64:
			var x float64
			if err := binary.Read(br, order, &x); err != nil {
				return err
			}
			v = x
		}
		im.Data[i] = v
	}
	return nil
}

// WriteNRRD saves im to path in LPS space, gzip-compressed when compress
// is set.
func WriteNRRD(path string, im *Image, compress bool) error {
	var buf bytes.Buffer
	if err := EncodeNRRD(&buf, im, compress); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// EncodeNRRD writes im with an attached header.
func EncodeNRRD(w io.Writer, im *Image, compress bool) error {
	if err := im.Validate(); err != nil {
		return err
	}
	encoding := "raw"
	if compress {
		encoding = "gzip"
	}

	var hdr strings.Builder
	hdr.WriteString("NRRD0004\n")
	hdr.WriteString("# written by ctalign\n")
	fmt.Fprintf(&hdr, "type: %s\n", nrrdTypeNames[im.PixelType])
	hdr.WriteString("dimension: 3\n")
	hdr.WriteString("space: left-posterior-superior\n")
	fmt.Fprintf(&hdr, "sizes: %d %d %d\n", im.Size[0], im.Size[1], im.Size[2])
	hdr.WriteString("space directions:")
	for c := 0; c < 3; c++ {
		fmt.Fprintf(&hdr, " (%s,%s,%s)",
			formatFloat(im.Direction[c]*im.Spacing[c]),
			formatFloat(im.Direction[3+c]*im.Spacing[c]),
			formatFloat(im.Direction[6+c]*im.Spacing[c]))
	}
	hdr.WriteString("\n")
	hdr.WriteString("kinds: domain domain domain\n")
	hdr.WriteString("endian: little\n")
	fmt.Fprintf(&hdr, "encoding: %s\n", encoding)
	fmt.Fprintf(&hdr, "space origin: (%s,%s,%s)\n\n",
		formatFloat(im.Origin[0]), formatFloat(im.Origin[1]), formatFloat(im.Origin[2]))

	if _, err := io.WriteString(w, hdr.String()); err != nil {
		return err
	}

	bw := bufio.NewWriterSize(w, 1<<16)
	var out io.Writer = bw
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(bw)
		out = zw
	}
	if err := writeSamples(out, im); err != nil {
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeSamples(w io.Writer, im *Image) error {
	order := binary.LittleEndian
	var scratch [8]byte
	for _, v := range im.Data {
		var b []byte
		switch im.PixelType {
		case UInt8:
			scratch[0] = uint8(v)
			b = scratch[:1]
		case Int16:
			order.PutUint16(scratch[:], uint16(int16(v)))
			b = scratch[:2]
		case UInt16:
			order.PutUint16(scratch[:], uint16(v))
			b = scratch[:2]
		case Int32:
			order.PutUint32(scratch[:], uint32(int32(v)))
			b = scratch[:4]
		case Float32:
			order.PutUint32(scratch[:], math.Float32bits(float32(v)))
			b = scratch[:4]
		case Float64:
			order.PutUint64(scratch[:], math.Float64bits(v))
			b = scratch[:8]
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

package toolpath

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tplpath/internal/models"
)

// Stats summarises a toolpath for logs and reports
type Stats struct {
	Moves         int     `json:"moves"`
	Exposures     int     `json:"exposures"`
	Travels       int     `json:"travels"`
	Layers        int     `json:"layers"`
	ExposedLength float64 `json:"exposedLength"`
	TravelLength  float64 `json:"travelLength"`
	Duration      float64 `json:"duration"`
	MinPower      float64 `json:"minPower"`
	MaxPower      float64 `json:"maxPower"`
	AvgPower      float64 `json:"avgPower"`
	MinSpeed      float64 `json:"minSpeed"`
	MaxSpeed      float64 `json:"maxSpeed"`
	AvgSpeed      float64 `json:"avgSpeed"`
}

// Stats computes the summary. Power and speed figures cover exposing moves
// only and are length weighted.
func (t *Toolpath) Stats() Stats {
	s := Stats{
		Moves:    len(t.moves),
		Duration: t.Duration(),
		MinPower: math.Inf(1),
		MinSpeed: math.Inf(1),
	}
	layers := make(map[int]struct{})
	var wp, ws float64
	for _, m := range t.moves {
		if m.Kind == Travel {
			s.Travels++
			s.TravelLength += m.Length()
			continue
		}
		s.Exposures++
		layers[m.Layer] = struct{}{}
		l := m.Length()
		s.ExposedLength += l
		wp += m.Power * l
		ws += m.Speed * l
		s.MinPower = math.Min(s.MinPower, m.Power)
		s.MaxPower = math.Max(s.MaxPower, m.Power)
		s.MinSpeed = math.Min(s.MinSpeed, m.Speed)
		s.MaxSpeed = math.Max(s.MaxSpeed, m.Speed)
	}
	s.Layers = len(layers)
	if s.Exposures == 0 {
		s.MinPower, s.MinSpeed = 0, 0
		return s
	}
	if s.ExposedLength > 0 {
		s.AvgPower = wp / s.ExposedLength
		s.AvgSpeed = ws / s.ExposedLength
	}
	return s
}

// LineDose is the coarse areal dose estimate P/(v·d) of a hatch written at
// power p (mW), speed v (µm/s) and spacing d (µm).
func LineDose(p, v, d float64) float64 {
	if v <= 0 || d <= 0 {
		return math.Inf(1)
	}
	return p / (v * d)
}

type document struct {
	TravelSpeed float64  `json:"travelSpeed"`
	Stats       Stats    `json:"stats"`
	Records     []Record `json:"records"`
}

// WriteJSON writes the records with a stats header.
func (t *Toolpath) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(document{TravelSpeed: t.travelSpeed, Stats: t.Stats(), Records: t.Records()}); err != nil {
		return fmt.Errorf("encoding toolpath: %w", err)
	}
	return nil
}

// ReadJSON parses a document written by WriteJSON.
func ReadJSON(r io.Reader) (*Toolpath, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding toolpath: %w", err)
	}
	t, err := FromRecords(doc.Records)
	if err != nil {
		return nil, err
	}
	if len(doc.Records) == 0 && doc.TravelSpeed > 0 {
		t.travelSpeed = doc.TravelSpeed
	}
	return t, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteGCode writes the records as G-code: G0 for travel, G1 for exposure,
// coordinates in µm, F in µm/s and P in mW. Layer changes are marked with
// a comment.
func (t *Toolpath) WriteGCode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	recs := t.Records()
	if len(recs) == 0 {
		return bw.Flush()
	}
	fmt.Fprintf(bw, "; tplpath toolpath, %d moves\n", len(t.moves))
	layer := recs[0].Layer
	fmt.Fprintf(bw, ";LAYER:%d\n", layer)
	start := recs[0]
	fmt.Fprintf(bw, "G0 X%s Y%s Z%s F%s\n", num(start.Pos.X), num(start.Pos.Y), num(start.Pos.Z), num(start.Speed))
	for _, r := range recs[1:] {
		if r.Layer != layer {
			layer = r.Layer
			fmt.Fprintf(bw, ";LAYER:%d\n", layer)
		}
		if r.Shutter {
			fmt.Fprintf(bw, "G1 X%s Y%s Z%s F%s P%s\n", num(r.Pos.X), num(r.Pos.Y), num(r.Pos.Z), num(r.Speed), num(r.Power))
		} else {
			fmt.Fprintf(bw, "G0 X%s Y%s Z%s F%s\n", num(r.Pos.X), num(r.Pos.Y), num(r.Pos.Z), num(r.Speed))
		}
	}
	return bw.Flush()
}

// CSVHeader names the columns written by WriteCSV
var CSVHeader = []string{"x", "y", "z", "power", "speed", "shutter", "layer"}

// WriteCSV writes one row per record under CSVHeader. Shutter is 1 while
// the move exposes.
func (t *Toolpath) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for i, r := range t.Records() {
		shutter := "0"
		if r.Shutter {
			shutter = "1"
		}
		row := []string{num(r.Pos.X), num(r.Pos.Y), num(r.Pos.Z), num(r.Power), num(r.Speed), shutter, strconv.Itoa(r.Layer)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadGCode parses G-code written by WriteGCode back into a toolpath. Chain
// and region labels are not carried by G-code and come back empty.
func ReadGCode(r io.Reader) (*Toolpath, error) {
	sc := bufio.NewScanner(r)
	var recs []Record
	layer := 0
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, ";LAYER:") {
			n, err := strconv.Atoi(strings.TrimPrefix(text, ";LAYER:"))
			if err != nil {
				return nil, fmt.Errorf("line %d: bad layer marker: %w", line, err)
			}
			layer = n
			continue
		}
		if strings.HasPrefix(text, ";") {
			continue
		}
		fields := strings.Fields(text)
		rec := Record{Layer: layer}
		switch fields[0] {
		case "G0":
		case "G1":
			rec.Shutter = true
		default:
			return nil, fmt.Errorf("line %d: unsupported command %q", line, fields[0])
		}
		for _, f := range fields[1:] {
			if len(f) < 2 {
				return nil, fmt.Errorf("line %d: bad word %q", line, f)
			}
			v, err := strconv.ParseFloat(f[1:], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			switch f[0] {
			case 'X':
				rec.Pos.X = v
			case 'Y':
				rec.Pos.Y = v
			case 'Z':
				rec.Pos.Z = v
			case 'F':
				rec.Speed = v
			case 'P':
				rec.Power = v
			default:
				return nil, fmt.Errorf("line %d: unknown word %q", line, f)
			}
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading gcode: %w", err)
	}
	return FromRecords(recs)
}

// Segments converts the exposing moves back into scan segments, e.g. for
// single-line dose checks.
func (t *Toolpath) Segments() []models.ScanSegment {
	out := make([]models.ScanSegment, 0, len(t.moves))
	for _, m := range t.moves {
		if m.Kind != Exposure {
			continue
		}
		out = append(out, models.ScanSegment{
			Start:  m.From.XY(),
			End:    m.To.XY(),
			Z:      m.From.Z,
			Layer:  m.Layer,
			Power:  m.Power,
			Speed:  m.Speed,
			Chain:  m.Chain,
			Region: m.Region,
		})
	}
	return out
}

package toolpath

import (
	"fmt"

	"tplpath/internal/models"
)

// Record is one entry of the execution contract: move the stage to Pos at
// Speed with the shutter in the given state and the laser at Power. The
// first record is the start position with the shutter closed.
type Record struct {
	Pos     models.Vec3 `json:"pos"`
	Power   float64     `json:"power"`
	Speed   float64     `json:"speed"`
	Shutter bool        `json:"shutter"`
	Layer   int         `json:"layer"`
	Chain   int         `json:"chain,omitempty"`
	Region  string      `json:"region,omitempty"`
}

// Records flattens the toolpath into stage records.
func (t *Toolpath) Records() []Record {
	if len(t.moves) == 0 {
		return nil
	}
	out := make([]Record, 0, len(t.moves)+1)
	first := t.moves[0]
	out = append(out, Record{Pos: first.From, Speed: t.travelSpeed, Layer: first.Layer})
	for _, m := range t.moves {
		out = append(out, Record{
			Pos:     m.To,
			Power:   m.Power,
			Speed:   m.Speed,
			Shutter: m.Kind == Exposure,
			Layer:   m.Layer,
			Chain:   m.Chain,
			Region:  m.Region,
		})
	}
	return out
}

// FromRecords rebuilds the toolpath that produced recs.
func FromRecords(recs []Record) (*Toolpath, error) {
	if len(recs) == 0 {
		return New(0), nil
	}
	if recs[0].Shutter {
		return nil, fmt.Errorf("first record must be a start position with the shutter closed")
	}
	t := New(recs[0].Speed)
	for i := 1; i < len(recs); i++ {
		r := recs[i]
		kind := Travel
		if r.Shutter {
			kind = Exposure
		}
		if r.Speed < 0 || r.Power < 0 {
			return nil, fmt.Errorf("record %d: negative speed or power", i)
		}
		t.moves = append(t.moves, Move{
			Kind:   kind,
			From:   recs[i-1].Pos,
			To:     r.Pos,
			Power:  r.Power,
			Speed:  r.Speed,
			Layer:  r.Layer,
			Chain:  r.Chain,
			Region: r.Region,
		})
	}
	return t, nil
}

package acq

import (
	"errors"
	"log"

	"github.com/nasa-jpl/labsweep/imgrec"
)

// Entry converts the result to a recorder entry
func (r *Result) Entry() imgrec.Entry {
	e := imgrec.Entry{
		Name:     r.Name,
		Shape:    r.Raw.Shape,
		Data:     r.Raw.Data,
		Metadata: r.Metadata,
	}
	if len(r.Preview.Data) > 0 {
		e.PreviewShape = r.Preview.Shape
		e.Previews = r.Preview.Data
	}
	return e
}

// Recorder returns an observer that writes every completed result with rec.
// Runs that did not complete are never written.
func Recorder(rec *imgrec.Recorder, lg *log.Logger) Observer {
	if lg == nil {
		lg = log.Default()
	}
	return ObserverFunc(func(e Event) {
		if e.State != Completed || e.Result == nil {
			return
		}
		base, err := rec.Record(e.Result.Entry())
		if err != nil {
			if !errors.Is(err, imgrec.ErrDisabled) {
				lg.Printf("acq: recording run %s: %v", e.ID, err)
			}
			return
		}
		lg.Printf("acq: run %s written to %s", e.ID, base)
	})
}

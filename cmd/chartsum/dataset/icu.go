package dataset

import (
	"errors"
	"io/fs"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mdplus/chartsum/models/mimic"
)

// Row caps for the on-demand ICU time-series loads. The tables are far too
// large to read wholesale; the caps bound load latency for the small
// working sets that qualify for enrichment.
const (
	maxChartEventRows     = 1000000
	maxInputEventRows     = 500000
	maxOutputEventRows    = 500000
	maxProcedureEventRows = 100000
)

// icuCache loads the ICU time-series tables on first use and memoizes the
// per-stay groupings for the life of the dataset. Enrichment is only
// performed when the admission working set is at most smallWorkingSet;
// above that, stays stay in the TimeSeriesNotComputed state.
//
// The cache is the only mutable shared state in the dataset: the HTTP API
// serves concurrent readers, so the load-check-then-write sequence is
// guarded by a mutex.
type icuCache struct {
	src     source
	log     zerolog.Logger
	enabled bool

	mu     sync.Mutex
	loaded bool
	charts map[int64][]mimic.ChartEvent
	inputs map[int64][]mimic.InputEvent
	prods  map[int64][]mimic.OutputEvent
	procs  map[int64][]mimic.ProcedureEvent
}

func newICUCache(src source, workingSet int, log zerolog.Logger) *icuCache {
	return &icuCache{
		src:     src,
		log:     log,
		enabled: workingSet > 0 && workingSet <= smallWorkingSet,
	}
}

// stayRecord wraps a stay row with its time-series data, or with an
// explicit not-computed state when the working set is too large.
func (c *icuCache) stayRecord(stay mimic.ICUStay) *mimic.ICUStayRecord {
	if !c.enabled {
		return &mimic.ICUStayRecord{ICUStay: stay, State: mimic.TimeSeriesNotComputed}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()

	return &mimic.ICUStayRecord{
		ICUStay:         stay,
		State:           mimic.TimeSeriesLoaded,
		VitalSigns:      c.charts[stay.StayID],
		Infusions:       c.inputs[stay.StayID],
		Outputs:         c.prods[stay.StayID],
		ProcedureEvents: c.procs[stay.StayID],
	}
}

func (c *icuCache) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.charts = make(map[int64][]mimic.ChartEvent)
	c.inputs = make(map[int64][]mimic.InputEvent)
	c.prods = make(map[int64][]mimic.OutputEvent)
	c.procs = make(map[int64][]mimic.ProcedureEvent)

	// A missing time-series file degrades that feature only.
	if rows, err := c.src.chartEvents(maxChartEventRows); err == nil {
		for _, ev := range rows {
			c.charts[ev.StayID] = append(c.charts[ev.StayID], ev)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Msg("Could not load ICU chart events")
	}

	if rows, err := c.src.inputEvents(maxInputEventRows); err == nil {
		for _, ev := range rows {
			c.inputs[ev.StayID] = append(c.inputs[ev.StayID], ev)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Msg("Could not load ICU input events")
	}

	if rows, err := c.src.outputEvents(maxOutputEventRows); err == nil {
		for _, ev := range rows {
			c.prods[ev.StayID] = append(c.prods[ev.StayID], ev)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Msg("Could not load ICU output events")
	}

	if rows, err := c.src.procedureEvents(maxProcedureEventRows); err == nil {
		for _, ev := range rows {
			c.procs[ev.StayID] = append(c.procs[ev.StayID], ev)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Msg("Could not load ICU procedure events")
	}
}

// Package status tracks the phase of an archive run. Transitions are
// validated and published on the bus so the CLI can surface progress.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wavault/wavault/internal/bus"
)

// Phase is a run phase.
type Phase string

const (
	Booting          Phase = "BOOTING"
	Syncing          Phase = "SYNCING"
	DownloadingMedia Phase = "DOWNLOADING_MEDIA"
	Sending          Phase = "SENDING"
	Exporting        Phase = "EXPORTING"
	Maintenance      Phase = "MAINTENANCE"
	Done             Phase = "DONE"
	Failed           Phase = "FAILED"
)

// validTransitions defines allowed phase transitions. A run performs its
// phases in order; any phase may fail.
var validTransitions = map[Phase][]Phase{
	Booting:          {Syncing, DownloadingMedia, Sending, Exporting, Maintenance, Done, Failed},
	Syncing:          {DownloadingMedia, Done, Failed},
	DownloadingMedia: {Done, Failed},
	Sending:          {Done, Failed},
	Exporting:        {Done, Failed},
	Maintenance:      {Done, Failed},
	Done:             {},
	Failed:           {},
}

// Machine tracks and enforces run phase transitions.
type Machine struct {
	mu      sync.RWMutex
	current Phase
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new phase. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "run.phase_changed",
			Timestamp: time.Now(),
			Payload:   PhaseChange{From: from, To: to},
		})
	}
	return nil
}

// PhaseChange is the payload for phase change events.
type PhaseChange struct {
	From Phase
	To   Phase
}

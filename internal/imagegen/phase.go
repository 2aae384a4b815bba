package imagegen

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Phase is the coarse progress stage reported to status sinks.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseQueued       Phase = "queued"
	PhaseGenerating   Phase = "generating"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// Terminal reports whether no further phases follow p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// StatusFunc receives phase transitions. It must not block for long; the poll
// loop calls it inline.
type StatusFunc func(Phase)

// phaseForStatus maps a provider status string to a phase. Unknown statuses
// map to PhaseGenerating with known=false.
func phaseForStatus(status string) (phase Phase, known bool) {
	switch status {
	case "starting":
		return PhaseInitializing, true
	case "in_queue", "queued":
		return PhaseQueued, true
	case "processing":
		return PhaseGenerating, true
	case "completed":
		return PhaseCompleted, true
	case "failed":
		return PhaseFailed, true
	case "cancelled", "canceled":
		return PhaseCancelled, true
	}
	return PhaseGenerating, false
}

var phaseLabels = map[Phase]string{
	PhaseInitializing: "Initializing",
	PhaseQueued:       "Queued",
	PhaseGenerating:   "Generating your try-on",
	PhaseCompleted:    "Completed",
	PhaseFailed:       "Generation failed",
	PhaseCancelled:    "Generation cancelled",
}

func init() {
	id := language.Indonesian
	_ = message.SetString(id, "Initializing", "Menyiapkan")
	_ = message.SetString(id, "Queued", "Dalam antrean")
	_ = message.SetString(id, "Generating your try-on", "Membuat hasil try-on")
	_ = message.SetString(id, "Completed", "Selesai")
	_ = message.SetString(id, "Generation failed", "Gagal membuat gambar")
	_ = message.SetString(id, "Generation cancelled", "Pembuatan dibatalkan")
}

// Label returns the human-readable label of p in the given language.
func (p Phase) Label(tag language.Tag) string {
	key, ok := phaseLabels[p]
	if !ok {
		return string(p)
	}
	return message.NewPrinter(tag).Sprintf(key)
}

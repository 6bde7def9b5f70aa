package model

import (
	"net/netip"
	"time"
)

// Target is one destination a detector flagged during a window.
type Target struct {
	Addr    netip.Addr `json:"addr"`
	Sources int        `json:"sources"`
	Packets uint64     `json:"packets"`
}

// Report is the result of one detector window evaluation.
type Report struct {
	ID          string    `json:"id"`
	Module      string    `json:"module"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Targets     []Target  `json:"targets"`
}

package device

import (
	"fmt"
	"sync"
)

// State is the supervisor state.
type State uint8

const (
	// StateBoot waits for the station link.
	StateBoot State = iota
	StateUnclaimed
	StateWaitingAttach
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "BOOT"
	case StateUnclaimed:
		return "UNCLAIMED"
	case StateWaitingAttach:
		return "WAITING_ATTACH"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Snapshot is the read-only view of the supervisor for the portal and the
// host tools.
type Snapshot struct {
	Seq              uint32
	State            State
	DeviceID         string
	ClaimCode        string
	Firmware         int
	LatestVersion    int
	AutoUpdate       bool
	UpdateInProgress bool
	UpdatePercent    int
	LastError        string
	DemoMode         bool
	DisplayHash      string
	Symbol           string
	MainText         string
}

// Published holds the latest snapshot. The supervisor is the only writer.
type Published struct {
	mu   sync.RWMutex
	seq  uint32
	snap Snapshot
}

// Load returns the current snapshot. Seq grows with every update.
func (p *Published) Load() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *Published) store(s Snapshot) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	s.Seq = p.seq
	p.snap = s
	return p.seq
}

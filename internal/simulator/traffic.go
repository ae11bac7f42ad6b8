package simulator

import (
	"math/rand/v2"
	"time"
)

type Talkgroup struct {
	ID  int64
	Tag string
}

// System is a simulated trunked radio system.
type System struct {
	Name        string
	SYSID       int64
	WACN        int64
	NAC         int64
	SigType     string
	ControlHz   int64
	VoiceHz     []int64
	Talkgroups  []Talkgroup
	EncryptedTG map[int64]bool
}

// Call is the decoder's view at one instant. Active is false between calls.
type Call struct {
	Active       bool
	System       *System
	Talkgroup    Talkgroup
	FrequencyHz  int64
	SourceAddr   int64
	Encrypted    bool
	LastActivity float64
	At           time.Time
}

// DefaultSystems is a small P25 county network.
var DefaultSystems = []*System{
	{
		Name: "County P25", SYSID: 0x1A2, WACN: 0xBEE00, NAC: 0x293, SigType: "P25",
		ControlHz: 851012500,
		VoiceHz:   []int64{851262500, 851512500, 852037500},
		Talkgroups: []Talkgroup{
			{ID: 101, Tag: "Fire Dispatch"},
			{ID: 202, Tag: "Police Main"},
			{ID: 305, Tag: "EMS Ops"},
			{ID: 411, Tag: "Public Works"},
		},
		EncryptedTG: map[int64]bool{202: true},
	},
	{
		Name: "City Simulcast", SYSID: 0x2C4, WACN: 0xBEE00, NAC: 0x3F1, SigType: "P25",
		ControlHz: 853150000,
		VoiceHz:   []int64{853400000, 853650000},
		Talkgroups: []Talkgroup{
			{ID: 7001, Tag: "Transit"},
			{ID: 7002, Tag: "Schools"},
		},
	},
}

// Traffic derives calls from the clock so that any instant maps to the same
// call for a given seed. It is safe for concurrent use.
type Traffic struct {
	Systems []*System
	Seed    uint64
	CallLen time.Duration
	Gap     time.Duration
	Epoch   time.Time
}

func NewTraffic(seed uint64) *Traffic {
	return &Traffic{
		Systems: DefaultSystems,
		Seed:    seed,
		CallLen: 3 * time.Second,
		Gap:     time.Second,
		Epoch:   time.Now(),
	}
}

// At returns the call in progress at t.
func (tr *Traffic) At(t time.Time) Call {
	period := tr.CallLen + tr.Gap
	elapsed := t.Sub(tr.Epoch)
	if elapsed < 0 {
		elapsed = 0
	}
	slot := uint64(elapsed / period)
	offset := elapsed % period

	r := rand.New(rand.NewPCG(tr.Seed, slot))
	sys := tr.Systems[r.IntN(len(tr.Systems))]
	tg := sys.Talkgroups[r.IntN(len(sys.Talkgroups))]
	c := Call{
		System:      sys,
		Talkgroup:   tg,
		FrequencyHz: sys.VoiceHz[r.IntN(len(sys.VoiceHz))],
		SourceAddr:  1000000 + r.Int64N(9000000),
		Encrypted:   sys.EncryptedTG[tg.ID],
		At:          t,
	}
	if offset < tr.CallLen {
		c.Active = true
		c.LastActivity = 0
	} else {
		c.LastActivity = (offset - tr.CallLen).Seconds()
	}
	return c
}

package telemetry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	typeTrunkUpdate = "trunk_update"
	typeChangeFreq  = "change_freq"

	// frequencies idle for longer than this are not reported as current activity
	recentActivity = 30.0
)

var trunkUpdateReserved = map[string]bool{
	"json_type": true, "srcaddr": true, "grpaddr": true, "encrypted": true, "nac": true,
}

// parseOP25 reads an active call from trunk_update/change_freq messages and
// otherwise falls back to the per-system summary of the first trunk_update.
func parseOP25(msgs []map[string]any, now time.Time) (Frame, error) {
	f := Frame{System: "Unknown", CapturedAt: now}
	var (
		seen      bool
		sysidSeen bool
	)

	for _, m := range msgs {
		switch m["json_type"] {
		case typeTrunkUpdate:
			seen = true
			if src := num(m["srcaddr"]); src != 0 {
				f.Talkgroup = num(m["grpaddr"])
				f.Signal.Active = true
				f.Signal.SourceAddr = src
				f.Signal.Encrypted, _ = m["encrypted"].(bool)
				f.Signal.NAC = num(m["nac"])
			}
		case typeChangeFreq:
			seen = true
			if hz := num(m["freq"]); hz != 0 {
				f.FrequencyMHz = float64(hz) / 1e6
				f.System = str(m["system"], "Unknown")
				f.Signal.NAC = num(m["nac"])
				f.Signal.WACN = num(m["wacn"])
				f.Signal.SYSID = num(m["sysid"])
				f.Signal.SigType = str(m["sigtype"], "Unknown")
				sysidSeen = f.Signal.SYSID != 0
			}
		}
	}
	if !seen {
		return Frame{}, fmt.Errorf("%w: no trunk_update or change_freq message", ErrMalformedPayload)
	}
	if f.Signal.Active && f.FrequencyMHz != 0 && f.Talkgroup != 0 {
		return f, nil
	}

	for _, m := range msgs {
		if m["json_type"] != typeTrunkUpdate {
			continue
		}
		if applySystemSummary(&f, m) {
			sysidSeen = sysidSeen || f.Signal.SYSID != 0
			break
		}
	}

	if f.System == "" || f.System == "Unknown" {
		if sysidSeen {
			f.System = "System " + strconv.FormatInt(f.Signal.SYSID, 10)
		} else {
			f.System = "No System"
		}
	}
	return f, nil
}

// applySystemSummary uses the first system entry (by key order) of a trunk_update.
func applySystemSummary(f *Frame, m map[string]any) bool {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !trunkUpdateReserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		sys, ok := m[key].(map[string]any)
		if !ok {
			continue
		}
		sysid := num(sys["sysid"])
		if sysid == 0 {
			sysid, _ = strconv.ParseInt(key, 0, 64)
		}
		if top := str(sys["top_line"], ""); strings.Contains(top, "NAC") {
			if sysid != 0 {
				f.System = "System " + strconv.FormatInt(sysid, 10)
			} else {
				f.System = "System " + key
			}
		}
		if rx := num(sys["rxchan"]); rx != 0 && f.FrequencyMHz == 0 {
			f.FrequencyMHz = float64(rx) / 1e6
		}
		f.Signal.SYSID = sysid
		f.Signal.WACN = num(sys["wacn"])
		f.Signal.Active = false

		if freqData, ok := sys["frequency_data"].(map[string]any); ok {
			applyRecentActivity(f, freqData)
		}
		return true
	}
	return false
}

func applyRecentActivity(f *Frame, freqData map[string]any) {
	keys := make([]string, 0, len(freqData))
	for k := range freqData {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		bestFreq string
		bestAge  = -1.0
		bestTG   int64
	)
	for _, k := range keys {
		d, ok := freqData[k].(map[string]any)
		if !ok {
			continue
		}
		age, err := activityAge(d["last_activity"])
		if err != nil {
			continue
		}
		if bestAge >= 0 && age >= bestAge {
			continue
		}
		bestAge, bestFreq = age, k
		if tgs, ok := d["tgids"].([]any); ok {
			for _, tg := range tgs {
				if tg != nil {
					bestTG = num(tg)
					break
				}
			}
		}
	}
	if bestFreq == "" || bestAge >= recentActivity {
		return
	}
	hz, err := strconv.ParseFloat(bestFreq, 64)
	if err != nil {
		return
	}
	f.FrequencyMHz = hz / 1e6
	f.Signal.LastActivity = bestAge
	if bestTG != 0 {
		f.Talkgroup = bestTG
	}
}

func activityAge(v any) (float64, error) {
	switch a := v.(type) {
	case float64:
		return a, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(a), 64)
	}
	return 0, fmt.Errorf("no last_activity")
}

package simulator

import (
	"strconv"
	"time"
)

type jsonFrame struct {
	System    string  `json:"system"`
	Frequency float64 `json:"frequency"`
	Talkgroup int64   `json:"talkgroup"`
	Tag       string  `json:"tag,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func jsonPayload(c Call) jsonFrame {
	f := jsonFrame{
		System:    c.System.Name,
		Frequency: float64(c.FrequencyHz) / 1e6,
		Timestamp: c.At.UTC().Format(time.RFC3339Nano),
	}
	if c.Active {
		f.Talkgroup = c.Talkgroup.ID
		f.Tag = c.Talkgroup.Tag
	}
	return f
}

// op25Payload mimics the multi_rx console reply to an update command.
func op25Payload(c Call) []map[string]any {
	sys := c.System
	sysKey := strconv.FormatInt(sys.SYSID, 10)
	freqKey := strconv.FormatInt(c.FrequencyHz, 10)

	tu := map[string]any{
		"json_type": "trunk_update",
		"srcaddr":   0,
		"grpaddr":   0,
		"encrypted": false,
		"nac":       sys.NAC,
		sysKey: map[string]any{
			"top_line": "WACN 0x" + strconv.FormatInt(sys.WACN, 16) + " SYSID 0x" + strconv.FormatInt(sys.SYSID, 16) +
				" NAC 0x" + strconv.FormatInt(sys.NAC, 16),
			"sysid":  sys.SYSID,
			"wacn":   sys.WACN,
			"rxchan": sys.ControlHz,
			"frequency_data": map[string]any{
				freqKey: map[string]any{
					"last_activity": strconv.FormatFloat(c.LastActivity, 'f', 1, 64),
					"tgids":         []any{c.Talkgroup.ID, nil},
				},
			},
		},
	}
	msgs := []map[string]any{tu}
	if !c.Active {
		return msgs
	}
	tu["srcaddr"] = c.SourceAddr
	tu["grpaddr"] = c.Talkgroup.ID
	tu["encrypted"] = c.Encrypted
	msgs = append(msgs, map[string]any{
		"json_type": "change_freq",
		"freq":      c.FrequencyHz,
		"system":    sys.Name,
		"nac":       sys.NAC,
		"wacn":      sys.WACN,
		"sysid":     sys.SYSID,
		"sigtype":   sys.SigType,
		"tgid":      c.Talkgroup.ID,
		"tag":       c.Talkgroup.Tag,
	})
	return msgs
}

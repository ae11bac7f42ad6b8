package detector

import (
	"errors"
	"fmt"
	"os"

	"github.com/loykin/trunkwatch/internal/process"
)

// PIDFileDetector reads the PID file the decoder (or its wrapper script)
// writes. The recorded start time, when present, must match the live
// process so a recycled PID is not mistaken for the decoder.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	info, err := process.ReadPIDFile(d.PIDFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// not written yet
		return false, nil
	case err != nil:
		return false, fmt.Errorf("pid file %s: %w", d.PIDFile, err)
	}
	return info.Matches(), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector checks a fixed PID, for decoders started outside trunkwatch.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	return process.PIDInfo{PID: d.PID}.Matches(), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

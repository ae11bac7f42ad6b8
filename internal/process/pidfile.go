package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDInfo is the content of a decoder pidfile.
type PIDInfo struct {
	PID       int
	StartUnix int64 // 0 when the start time was unavailable at write time
}

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile records pid and its start time so a later run can tell a live
// decoder apart from a recycled PID.
func WritePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, _ := json.Marshal(pidMeta{StartUnix: StartUnix(pid)})
	data := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// ReadPIDFile parses a pidfile written by WritePIDFile. Files with only a PID line
// are accepted.
func ReadPIDFile(path string) (PIDInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PIDInfo{}, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return PIDInfo{}, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return PIDInfo{}, fmt.Errorf("invalid pid in %s: %d", path, pid)
	}
	info := PIDInfo{PID: pid}
	for _, line := range strings.Split(rest, "\n") {
		var m pidMeta
		if json.Unmarshal([]byte(strings.TrimSpace(line)), &m) == nil && m.StartUnix > 0 {
			info.StartUnix = m.StartUnix
			break
		}
	}
	return info, nil
}

// RemovePIDFile deletes the pidfile, ignoring a missing file.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Matches reports whether the pidfile still describes a running process, i.e. the
// PID exists and, when recorded, its start time is unchanged.
func (i PIDInfo) Matches() bool {
	if i.PID <= 0 || !processExists(i.PID) {
		return false
	}
	if i.StartUnix > 0 {
		if cur := StartUnix(i.PID); cur > 0 && cur != i.StartUnix {
			return false // PID reused
		}
	}
	return true
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/loykin/trunkwatch/pkg/client"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7DCFFF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(20)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c0c0c0"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Italic(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	goodStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E0AF68"))
	badStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

// stateStyle colors both process and connection states.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "Running", "Connected":
		return goodStyle
	case "Starting", "Restarting", "Connecting", "Degraded":
		return warnStyle
	case "Failed", "Disconnected":
		return badStyle
	}
	return valueStyle
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderStatus(st client.Status) string {
	var lines []string
	lines = append(lines,
		titleStyle.Render("trunkwatch"),
		row("decoder", stateStyle(st.ProcessState).Render(st.ProcessState)),
		row("telemetry", stateStyle(st.ConnectionState).Render(st.ConnectionState)),
		row("launcher", valueStyle.Render(st.Launcher)),
	)
	if st.PID > 0 {
		lines = append(lines,
			row("pid", valueStyle.Render(fmt.Sprint(st.PID))),
			row("uptime", valueStyle.Render(st.Uptime.Truncate(time.Second).String())),
		)
	}
	if st.Usage != nil {
		lines = append(lines, row("usage", valueStyle.Render(
			fmt.Sprintf("%.1f%% cpu, %.1f MB rss, %d threads", st.Usage.CPUPercent, float64(st.Usage.RSSBytes)/(1<<20), st.Usage.Threads))))
	}
	lines = append(lines, row("restarts", valueStyle.Render(
		fmt.Sprintf("%d total, %d in window", st.RestartCount, st.RestartsInWindow))))
	if !st.NextRestartAt.IsZero() {
		lines = append(lines, row("next restart", warnStyle.Render(st.NextRestartAt.Local().Format(time.TimeOnly))))
	}
	if st.ConsecutiveFailures > 0 {
		lines = append(lines, row("poll failures", warnStyle.Render(fmt.Sprint(st.ConsecutiveFailures))))
	}
	if st.LastExit != nil {
		exit := fmt.Sprintf("code %d", st.LastExit.Code)
		if st.LastExit.Signal != "" {
			exit += " (" + st.LastExit.Signal + ")"
		}
		lines = append(lines, row("last exit", valueStyle.Render(exit)))
	}
	if st.LastError != "" {
		lines = append(lines, row("last error", errStyle.Render(st.LastError)))
	}
	if st.LastFrame != nil {
		lines = append(lines, "", renderFrame(*st.LastFrame))
		if st.FrameAge > 0 {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("frame age %s", st.FrameAge.Truncate(time.Millisecond))))
		}
	} else {
		lines = append(lines, "", dimStyle.Render("no frame received yet"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderFrame(f client.Frame) string {
	tg := dimStyle.Render("idle")
	if f.Talkgroup != 0 {
		tg = goodStyle.Render(fmt.Sprint(f.Talkgroup))
		if f.Tag != "" {
			tg += " " + valueStyle.Render(f.Tag)
		}
	}
	lines := []string{
		row("system", valueStyle.Render(f.System)),
		row("frequency", valueStyle.Render(fmt.Sprintf("%.4f MHz", f.FrequencyMHz))),
		row("talkgroup", tg),
	}
	if f.Signal.Encrypted {
		lines = append(lines, row("encrypted", badStyle.Render("yes")))
	}
	if f.Signal.NAC != 0 {
		lines = append(lines, row("nac", valueStyle.Render(fmt.Sprintf("0x%x", f.Signal.NAC))))
	}
	return strings.Join(lines, "\n")
}

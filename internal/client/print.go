package client

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"proxyhub/internal/constants"
	"proxyhub/internal/types"
)

const (
	ColorReset  = constants.ColorReset
	ColorBold   = constants.ColorBold
	ColorDim    = constants.ColorDim
	ColorCyan   = constants.ColorCyan
	ColorGreen  = constants.ColorGreen
	ColorYellow = constants.ColorYellow
	ColorRed    = constants.ColorRed
	ColorPurple = constants.ColorPurple
)

func PrintBanner(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s%sproxyhub%s %sv%s%s\n", ColorBold, ColorCyan, ColorReset, ColorBold, constants.Version, ColorReset)
	fmt.Fprintf(w, "  %sProxy session hub%s\n", ColorDim, ColorReset)
	fmt.Fprintln(w)
}

func PrintHint(w io.Writer, text string) {
	fmt.Fprintf(w, "  %s%s%s\n", ColorDim, text, ColorReset)
}

func PrintField(w io.Writer, label, value, valueColor string) {
	fmt.Fprintf(w, "  %s%-12s%s %s%s%s\n", ColorDim, label, ColorReset, valueColor, value, ColorReset)
}

func PrintSep(w io.Writer) {
	fmt.Fprintf(w, "  %s%s%s\n", ColorDim, strings.Repeat("─", 50), ColorReset)
}

func statusColor(s types.Status) string {
	switch s {
	case types.StatusConnected:
		return ColorGreen
	case types.StatusConnecting:
		return ColorYellow
	case types.StatusFailed:
		return ColorRed
	}
	return ColorDim
}

// PrintSessions renders one line per session.
func PrintSessions(w io.Writer, sessions []types.Session, now time.Time) {
	if len(sessions) == 0 {
		PrintHint(w, "no active sessions")
		return
	}
	for _, s := range sessions {
		user := s.User()
		if user == "" {
			user = "anonymous"
		}
		fmt.Fprintf(w, "  %s●%s %s  %s%s:%d%s  %-12s %s%s%s\n",
			statusColor(s.Status), ColorReset,
			s.SessionID,
			ColorCyan, s.ProxyHost, s.ProxyPort, ColorReset,
			user,
			ColorDim, FormatDuration(now.Sub(s.StartedAt)), ColorReset)
		if s.Location != "" {
			PrintHint(w, "    "+s.ExternalIP+" "+s.Location)
		}
	}
}

func PrintStats(w io.Writer, st *types.Stats) {
	PrintField(w, "active", fmt.Sprint(st.ActiveSessions), ColorGreen)
	PrintField(w, "connecting", fmt.Sprint(st.ConnectingSessions), ColorYellow)
	PrintField(w, "tracked", fmt.Sprint(st.TrackedSessions), ColorReset)
	PrintField(w, "users", fmt.Sprint(st.UniqueUsers), ColorReset)
	PrintField(w, "anonymous", fmt.Sprint(st.AnonymousSessions), ColorReset)
	PrintField(w, "observers", fmt.Sprint(st.Observers), ColorPurple)
	PrintField(w, "gateway", st.GatewayState, ColorCyan)

	statuses := make([]string, 0, len(st.ByStatus))
	for s := range st.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		PrintField(w, "  "+s, fmt.Sprint(st.ByStatus[types.Status(s)]), ColorDim)
	}
}

// FormatEvent renders one observer frame as a log line.
func FormatEvent(frame map[string]any, now time.Time) string {
	ts := now.Format(constants.TimeFormatShort)
	typ, _ := frame["type"].(string)
	str := func(k string) string {
		v, _ := frame[k].(string)
		return v
	}

	switch typ {
	case "session_connected":
		return fmt.Sprintf("  %s%s%s %s✅ connected%s    %s %s%s:%v%s %s\n",
			ColorDim, ts, ColorReset, ColorGreen, ColorReset,
			str("sessionId"), ColorCyan, str("proxyHost"), frame["proxyPort"], ColorReset, userLabel(frame))
	case "session_disconnected":
		return fmt.Sprintf("  %s%s%s %s🔌 disconnected%s %s %s(%s)%s\n",
			ColorDim, ts, ColorReset, ColorRed, ColorReset,
			str("sessionId"), ColorDim, str("reason"), ColorReset)
	case "config_updated":
		return fmt.Sprintf("  %s%s%s %s⚙️  config%s       %s = %s\n",
			ColorDim, ts, ColorReset, ColorPurple, ColorReset, str("key"), str("value"))
	case "service_status":
		return fmt.Sprintf("  %s%s%s %s📣 service%s      %s %s%s%s\n",
			ColorDim, ts, ColorReset, ColorYellow, ColorReset, str("status"), ColorDim, str("message"), ColorReset)
	case "sync_event":
		return fmt.Sprintf("  %s%s%s %s🛰  %s%s %s %s\n",
			ColorDim, ts, ColorReset, ColorCyan, str("origin"), ColorReset, str("event_type"), str("sessionId"))
	}
	return fmt.Sprintf("  %s%s %v%s\n", ColorDim, ts, frame, ColorReset)
}

func userLabel(frame map[string]any) string {
	if u, ok := frame["userId"].(string); ok && u != "" {
		return u
	}
	return ColorDim + "anonymous" + ColorReset
}

func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", hours, minutes)
}

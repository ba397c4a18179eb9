package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// Screen rows: banner 1-9, status line 10, logs scroll from 12.
const (
	statusRow = 10
	logRow    = 12
)

var spinner = []string{"◜", "◝", "◞", "◟"}

// termMu serializes all terminal output so the status line redraw is never
// split by a log write.
var termMu sync.Mutex

type termWriter struct{}

func (termWriter) Write(p []byte) (int, error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer for log.SetOutput that shares the
// dashboard's terminal lock.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

const banner = `
    ____  _____________   _____   ____________
   / __ \/ ____/ ____/ | / /   | / ____/_  __/
  / /_/ / __/ / __/ /  |/ / /| |/ /     / /
 / _, _/ /___/ /___/ /|  / ___ / /___  / /
/_/ |_/_____/_____/_/ |_/_/  |_\____/ /_/

        >> SHOW IT ONCE, RUN IT AGAIN <<
`

func PrintBanner() {
	fmt.Print("\033[2J\033[H")
	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		pad := max((width-len(l))/2, 0)
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", pad), colorNeonCyan, l, colorReset)
	}
}

func InitializeTerminal() {
	fmt.Printf("\033[%d;r\033[%d;1H", logRow, logRow)
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// health classifies the age of the last scheduler heartbeat.
func health(since time.Duration) (icon, label, color string) {
	switch {
	case since < 40*time.Second:
		return "🟢", "HEALTHY", colorNeonCyan
	case since < 90*time.Second:
		return "🟡", "LAGGING", colorPurple
	}
	return "🔴", "OFFLINE", colorNeonMag
}

func phaseIcon(p Phase) (icon, color string) {
	switch p {
	case PhaseRunning:
		return "▶️", colorNeonCyan
	case PhaseRecovering:
		return "🔁", colorNeonMag
	}
	return "💤", colorReset
}

// progress is the run shown on the status line, e.g. "open course #3.2".
func progress(st Status, width int) string {
	text := "Waiting..."
	if st.Workflow != "" {
		text = fmt.Sprintf("%s #%d.%d", st.Workflow, st.Step, st.Attempt)
	} else if st.LastRun != "" {
		text = "last: " + st.LastRun
	}
	if r := []rune(text); len(r) > width {
		text = string(r[:width-3]) + "..."
	}
	return text
}

func memoryBar(alloc, sys uint64, width int) (string, string) {
	frac := 0.0
	if sys > 0 {
		frac = float64(alloc) / float64(sys)
	}
	filled := min(max(int(frac*float64(width)), 0), width)
	color := colorNeonCyan
	if frac > 0.7 {
		color = colorNeonMag
	}
	return strings.Repeat("█", filled) + strings.Repeat("▒", width-filled), color
}

// statusLine renders one dashboard line without cursor control codes.
func statusLine(st Status, now time.Time, frame int, alloc, sys uint64) string {
	hIcon, hLabel, hColor := health(now.Sub(st.LastHeartbeat))
	pIcon, pColor := phaseIcon(st.Phase)
	spin := " "
	if st.Phase != PhaseIdle {
		spin = spinner[frame%len(spinner)]
	}
	bar, barColor := memoryBar(alloc, sys, 20)

	return fmt.Sprintf("[%s] %s%s %-7s%s | %s%s %-10s%s [%-28s] %s%s%s [%v] [%s%s %.1fMB%s]",
		st.LastHeartbeat.Format("15:04:05"),
		hColor, hIcon, hLabel, colorReset,
		pColor, pIcon, st.Phase, colorReset,
		progress(st, 28),
		colorPurple, spin, colorReset,
		now.Sub(startTime).Round(time.Second),
		barColor, bar, float64(alloc)/1024/1024, colorReset,
	)
}

var frame int

// PrintLiveStatus redraws the status row in place.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	line := statusLine(GetStatus(), time.Now(), frame, m.Alloc, m.Sys)
	frame++

	termMu.Lock()
	fmt.Printf("\033[s\033[%d;1H\033[K%s\033[u", statusRow, line)
	termMu.Unlock()
}

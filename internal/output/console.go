// Package output renders batch progress and results for humans and machines.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/fanout/internal/driver"
)

const ruleWidth = 56

// Header describes the batch about to run.
type Header struct {
	Name        string
	Target      string
	Client      string
	Mode        driver.Mode
	Count       int
	Concurrency int
	Commands    []string
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Verbose     bool
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// Console writes batch output. It is safe for concurrent use, so
// PrintInvocation can be used directly as a driver observer.
type Console struct {
	w       io.Writer
	scheme  *ColorScheme
	noColor bool
	verbose bool
	quiet   bool

	mu sync.Mutex
}

// NewConsole creates a console. Colors are used only when the writer is a
// terminal that supports them, unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	useColors := config.ForceColors || (!config.NoColor && IsTerminal(config.Writer) && supportsColors())

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme()
		scheme.forceColor()
	}

	return &Console{
		w:       config.Writer,
		scheme:  scheme,
		noColor: !useColors,
		verbose: config.Verbose && !config.Quiet,
		quiet:   config.Quiet,
	}
}

// PrintHeader prints the batch header.
func (c *Console) PrintHeader(h Header) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.scheme.Rule.Sprint(strings.Repeat("━", ruleWidth))
	concurrency := ""
	if h.Mode == driver.ModeParallel && h.Concurrency > 0 {
		concurrency = fmt.Sprintf(", %d workers", h.Concurrency)
	}

	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.scheme.Title.Sprint(h.Name), c.scheme.Highlight.Sprintf("%s ×%d%s", h.Mode, h.Count, concurrency)))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Target:    %s (%s)", c.scheme.Value.Sprint(h.Target), h.Client))
	for _, cmd := range h.Commands {
		c.writeln(fmt.Sprintf("Command:   %s", c.scheme.Command.Sprint(cmd)))
	}
	c.writeln("")
}

// PrintInvocation prints one terminal invocation when verbose output is on.
func (c *Console) PrintInvocation(inv driver.Invocation) {
	if !c.verbose {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	icon := SuccessIcon(c.noColor)
	detail := ""
	if inv.Outcome == driver.OutcomeFailed {
		icon = ErrorIcon(c.noColor)
		if inv.Cause != nil {
			detail = " " + c.scheme.Error.Sprint(causeText(inv.Cause))
		}
	}

	c.writeln(fmt.Sprintf("%s #%-5d %-24s %8s%s",
		icon,
		inv.Index,
		c.scheme.Command.Sprint(truncate(inv.Command.String(), 24)),
		formatDurationShort(inv.Duration()),
		detail))
}

// PrintSummary prints the final batch summary.
func (c *Console) PrintSummary(name string, res *driver.BatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if res.Failed == 0 {
			c.writeln(c.scheme.Success.Sprintf("%d/%d succeeded", res.Succeeded, res.Count))
		} else {
			c.writeln(c.scheme.Error.Sprintf("%d/%d failed", res.Failed, res.Count))
		}
		return
	}

	rule := c.scheme.Rule.Sprint(strings.Repeat("━", ruleWidth))
	status := c.scheme.Success.Sprint("Completed ✓")
	if res.Failed > 0 {
		status = c.scheme.Warn.Sprintf("Completed with %d failed ✗", res.Failed)
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.scheme.Title.Sprint(name), status))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.scheme.Value.Sprint(formatDuration(res.Elapsed))))
	c.writeln(fmt.Sprintf("Invocations:   %s", c.scheme.Value.Sprint(res.Count)))
	c.writeln(fmt.Sprintf("Succeeded:     %s", c.scheme.Success.Sprint(res.Succeeded)))

	failed := c.scheme.Success.Sprint(res.Failed)
	if res.Failed > 0 {
		failed = c.scheme.Error.Sprint(res.Failed)
	}
	c.writeln(fmt.Sprintf("Failed:        %s", failed))
	c.writeln(fmt.Sprintf("Error rate:    %s", c.scheme.Value.Sprintf("%.1f%%", res.Latency.ErrorRate()*100)))
	c.writeln(fmt.Sprintf("Throughput:    %s", c.scheme.Value.Sprintf("%.1f/s", throughput(res))))
	if res.Workers > 0 {
		c.writeln(fmt.Sprintf("Workers:       %s", c.scheme.Value.Sprint(res.Workers)))
	}
	if p := res.Pacing; p != nil {
		c.writeln(fmt.Sprintf("Pacing:        %s", c.scheme.Value.Sprintf("%.0f/s, %d starts, %s waited",
			p.Rate, p.Slots, formatDuration(p.Waited))))
	}
	c.writeln("")

	lat := res.Latency.Latency
	if lat.Count > 0 {
		c.writeln(c.scheme.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(lat.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(lat.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(lat.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(lat.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(lat.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(lat.Max)))
		c.writeln("")
	}

	failures := res.Failures()
	if len(failures) > 0 {
		c.writeln(c.scheme.Title.Sprint("Failures:"))
		for _, group := range groupCauses(failures) {
			c.writeln(fmt.Sprintf("  %s %s", c.scheme.Error.Sprintf("%5d×", group.count), group.cause))
		}
		c.writeln("")
	}
}

type causeGroup struct {
	cause string
	count int
}

// groupCauses counts failures by cause text, keeping first-seen order.
func groupCauses(failures []driver.Invocation) []causeGroup {
	index := make(map[string]int)
	var groups []causeGroup
	for _, inv := range failures {
		text := causeText(inv.Cause)
		if i, ok := index[text]; ok {
			groups[i].count++
			continue
		}
		index[text] = len(groups)
		groups = append(groups, causeGroup{cause: text, count: 1})
	}
	return groups
}

// causeText drops the per-invocation prefix so identical causes group.
func causeText(err error) string {
	if err == nil {
		return "unknown"
	}
	var f *driver.InvocationFailure
	if errors.As(err, &f) && f.Err != nil {
		return f.Err.Error()
	}
	return err.Error()
}

func throughput(res *driver.BatchResult) float64 {
	if res.Elapsed <= 0 {
		return 0
	}
	return float64(res.Count) / res.Elapsed.Seconds()
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ricardoborges/nautilus/internal/util"
)

// Section markers for the batched collection command. Everything is
// gathered in a single exec per cycle to keep the per-tick cost at one
// round trip.
const (
	secHost   = "===HOST==="
	secOS     = "===OS==="
	secKernel = "===KERNEL==="
	secArch   = "===ARCH==="
	secUptime = "===UPTIME==="
	secCPU    = "===CPU==="
	secLoad   = "===LOAD==="
	secMem    = "===MEM==="
	secDisk   = "===DISK==="
	secNet    = "===NET==="
	secSvc    = "===SVC:" // followed by the unit name and ===
)

type cpuCounters struct {
	total uint64
	idle  uint64
}

type netCounters struct {
	rx uint64
	tx uint64
}

// batchCommand builds the single shell pipeline executed each poll cycle.
func batchCommand(services []string) string {
	var b strings.Builder
	b.WriteString("echo " + secHost + "; hostname 2>/dev/null; ")
	b.WriteString("echo " + secOS + "; grep '^PRETTY_NAME=' /etc/os-release 2>/dev/null; ")
	b.WriteString("echo " + secKernel + "; uname -sr 2>/dev/null; ")
	b.WriteString("echo " + secArch + "; uname -m 2>/dev/null; ")
	b.WriteString("echo " + secUptime + "; cat /proc/uptime 2>/dev/null; ")
	b.WriteString("echo " + secCPU + "; head -1 /proc/stat 2>/dev/null; ")
	b.WriteString("echo " + secLoad + "; cat /proc/loadavg 2>/dev/null; ")
	b.WriteString("echo " + secMem + "; grep -E '^(MemTotal|MemAvailable):' /proc/meminfo 2>/dev/null; ")
	b.WriteString("echo " + secDisk + "; df -kP / 2>/dev/null | tail -1; ")
	b.WriteString("echo " + secNet + "; cat /proc/net/dev 2>/dev/null")
	for _, svc := range services {
		b.WriteString("; echo '" + secSvc + svc + "==='")
		b.WriteString("; systemctl is-active " + util.ShellQuote(svc) + " 2>/dev/null || true")
	}
	return b.String()
}

// parseBatch splits the batched output back into sections and extracts the
// sample. CPU and network counters are returned separately because they
// only become rates once a previous read exists.
func parseBatch(out []byte, services []string) (Sample, *cpuCounters, *netCounters, error) {
	sections := splitSections(string(out))

	cpu, err := parseCPULine(firstLine(sections[secCPU]))
	if err != nil {
		return Sample{}, nil, nil, err
	}

	var s Sample
	s.Hostname = firstLine(sections[secHost])
	s.OS = parseOSRelease(firstLine(sections[secOS]))
	s.Kernel = firstLine(sections[secKernel])
	s.Arch = firstLine(sections[secArch])
	s.UptimeSec = parseUptime(firstLine(sections[secUptime]))
	s.Load1, s.Load5, s.Load15, err = parseLoadAvg(firstLine(sections[secLoad]))
	if err != nil {
		return Sample{}, nil, nil, err
	}
	s.MemTotalKB, s.MemUsedKB = parseMeminfo(sections[secMem])
	s.DiskTotalKB, s.DiskUsedKB = parseDiskLine(firstLine(sections[secDisk]))
	net := parseNetDev(sections[secNet])

	if len(services) > 0 {
		s.Services = make(map[string]string, len(services))
		for _, svc := range services {
			state := firstLine(sections[secSvc+svc+"==="])
			if state == "" {
				state = "unknown"
			}
			s.Services[svc] = state
		}
	}

	return s, cpu, net, nil
}

// splitSections maps each marker to the lines that follow it.
func splitSections(out string) map[string]string {
	sections := make(map[string]string)
	var current string
	var buf strings.Builder
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimRight(buf.String(), "\n")
		}
		buf.Reset()
	}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "===") {
			flush()
			current = trimmed
			continue
		}
		if current != "" {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()
	return sections
}

// parseOSRelease extracts the distribution name from the PRETTY_NAME line
// of /etc/os-release.
func parseOSRelease(line string) string {
	v, ok := strings.CutPrefix(line, "PRETTY_NAME=")
	if !ok {
		return ""
	}
	return strings.Trim(v, `"`)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// parseCPULine reads the aggregate "cpu" line of /proc/stat.
// Fields: user nice system idle iowait irq softirq steal [guest guest_nice].
func parseCPULine(line string) (*cpuCounters, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return nil, fmt.Errorf("unexpected /proc/stat line: %q", line)
	}
	var c cpuCounters
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad jiffies value %q in /proc/stat", f)
		}
		c.total += v
		// idle + iowait both count as idle time
		if i == 3 || i == 4 {
			c.idle += v
		}
	}
	return &c, nil
}

func parseUptime(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(fields[0], 64)
	return v
}

func parseLoadAvg(line string) (l1, l5, l15 float64, err error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("unexpected /proc/loadavg line: %q", line)
	}
	if l1, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return 0, 0, 0, err
	}
	if l5, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return 0, 0, 0, err
	}
	if l15, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return 0, 0, 0, err
	}
	return l1, l5, l15, nil
}

// parseMeminfo extracts MemTotal and derives used from MemAvailable.
func parseMeminfo(section string) (totalKB, usedKB uint64) {
	var available uint64
	for _, line := range strings.Split(section, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			totalKB = v
		case "MemAvailable":
			available = v
		}
	}
	if totalKB >= available {
		usedKB = totalKB - available
	}
	return totalKB, usedKB
}

// parseDiskLine reads one `df -kP` data row for the root filesystem.
func parseDiskLine(line string) (totalKB, usedKB uint64) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return 0, 0
	}
	totalKB, _ = strconv.ParseUint(fields[1], 10, 64)
	usedKB, _ = strconv.ParseUint(fields[2], 10, 64)
	return totalKB, usedKB
}

// parseNetDev sums cumulative rx/tx bytes across all interfaces except
// loopback.
func parseNetDev(section string) *netCounters {
	var c netCounters
	for _, line := range strings.Split(section, "\n") {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue // header lines
		}
		name := strings.TrimSpace(line[:idx])
		if name == "lo" {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 9 {
			continue
		}
		rx, _ := strconv.ParseUint(fields[0], 10, 64)
		tx, _ := strconv.ParseUint(fields[8], 10, 64)
		c.rx += rx
		c.tx += tx
	}
	return &c
}

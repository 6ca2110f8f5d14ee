//go:build linux

package agent

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/rekcod/rekcod/api"
)

// collect reads the host snapshot from /proc, statfs and the interface
// table. Caller holds the collector lock.
func (c *sysCollector) collect() (*api.SystemInfoResponse, error) {
	info := &api.SystemInfoResponse{
		HostName: hostname(),
		CPUCount: cpuCount(),
	}

	if busy, total, err := readCPUSample(); err == nil {
		if c.prevTotal > 0 && total > c.prevTotal {
			info.CPUUsage = 100 * float64(busy-c.prevBusy) / float64(total-c.prevTotal)
		}
		c.prevBusy, c.prevTotal = busy, total
	}

	readMemInfo(info)

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.SystemName = utsString(uts.Sysname[:])
		info.KernelVersion = utsString(uts.Release[:])
		info.CPUArch = utsString(uts.Machine[:])
	}
	info.OSVersion, info.LongOSVersion = readOSRelease()

	info.Disks = readDisks()
	info.Networks = readNetworks()
	return info, nil
}

func utsString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func cpuCount() int {
	n := 0
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "processor") {
			n++
		}
	}
	return n
}

// readCPUSample returns the aggregate busy and total jiffies from the
// first /proc/stat line.
func readCPUSample() (busy, total uint64, err error) {
	buf, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	line, _, _ := strings.Cut(string(buf), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, nil
	}
	var vals []uint64
	for _, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		vals = append(vals, v)
		total += v
	}
	// idle + iowait are the non-busy columns
	idle := vals[3]
	if len(vals) > 4 {
		idle += vals[4]
	}
	return total - idle, total, nil
}

func readMemInfo(info *api.SystemInfoResponse) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()

	vals := map[string]uint64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		kb, _ := strconv.ParseUint(fields[0], 10, 64)
		vals[name] = kb * 1024
	}

	info.MemTotal = vals["MemTotal"]
	info.MemFree = vals["MemFree"]
	info.MemAvailable = vals["MemAvailable"]
	if info.MemTotal > 0 {
		info.MemUsed = info.MemTotal - info.MemAvailable
		info.MemUsage = 100 * float64(info.MemUsed) / float64(info.MemTotal)
	}
}

// readOSRelease pulls VERSION_ID and PRETTY_NAME from /etc/os-release.
func readOSRelease() (version, long string) {
	buf, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "", ""
	}
	for _, line := range strings.Split(string(buf), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "VERSION_ID":
			version = v
		case "PRETTY_NAME":
			long = v
		}
	}
	return version, long
}

// readDisks walks the mount table and statfs's real filesystems.
func readDisks() []api.SystemDiskInfo {
	buf, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return nil
	}

	var disks []api.SystemDiskInfo
	seen := map[string]bool{}
	for _, line := range strings.Split(string(buf), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		device, mount := fields[0], fields[1]
		if seen[device] {
			continue
		}
		var st unix.Statfs_t
		if err := unix.Statfs(mount, &st); err != nil {
			continue
		}
		seen[device] = true
		disks = append(disks, api.SystemDiskInfo{
			Name:  device,
			Mount: mount,
			Total: st.Blocks * uint64(st.Bsize),
			Free:  st.Bavail * uint64(st.Bsize),
		})
	}
	return disks
}

// readNetworks lists non-loopback interfaces with their traffic counters
// from /proc/net/dev.
func readNetworks() []api.SystemNetworkInfo {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	rx, tx := readNetCounters()

	var nets []api.SystemNetworkInfo
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		var ips []string
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				ips = append(ips, addr.String())
			}
		}
		nets = append(nets, api.SystemNetworkInfo{
			Name:     iface.Name,
			IPs:      ips,
			MAC:      iface.HardwareAddr.String(),
			TotalIn:  rx[iface.Name],
			TotalOut: tx[iface.Name],
		})
	}
	return nets
}

func readNetCounters() (rx, tx map[string]uint64) {
	rx, tx = map[string]uint64{}, map[string]uint64{}
	buf, err := os.ReadFile("/proc/net/dev")
	if err != nil {
		return rx, tx
	}
	for _, line := range strings.Split(string(buf), "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		name = strings.TrimSpace(name)
		rx[name], _ = strconv.ParseUint(fields[0], 10, 64)
		tx[name], _ = strconv.ParseUint(fields[8], 10, 64)
	}
	return rx, tx
}

// Package proc provides utilities for process discovery on Linux systems.
// It parses the /proc filesystem to relate processes to the network ports
// they listen on.
package proc

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ListeningPorts returns a map from PID to the lowest TCP port that
// process is listening on. Processes without listening sockets, and
// sockets whose owner cannot be resolved (permission denied), are absent
// from the map.
func ListeningPorts() (map[int32]int, error) {
	inodePorts := make(map[string]int)
	for _, procPath := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		if err := readListenInodes(procPath, inodePorts); err != nil {
			return nil, err
		}
	}
	if len(inodePorts) == 0 {
		return map[int32]int{}, nil
	}

	pids, err := ListPids()
	if err != nil {
		return nil, err
	}

	ports := make(map[int32]int)
	for _, pid := range pids {
		port, ok := socketPortForPid(pid, inodePorts)
		if !ok {
			continue
		}
		if existing, seen := ports[int32(pid)]; !seen || port < existing {
			ports[int32(pid)] = port
		}
	}
	return ports, nil
}

// readListenInodes parses /proc/net/tcp(6) and records the socket inode of
// every listening port into inodePorts.
func readListenInodes(procPath string, inodePorts map[string]int) error {
	//nolint:gosec // G304: Path is from /proc filesystem for system information.
	f, err := os.Open(procPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close() // nolint:errcheck

	scanner := bufio.NewScanner(f)
	// Skip header.
	if scanner.Scan() {
		_ = scanner.Text()
	}

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}

		// Field 3: st (state). 0A is LISTEN.
		if fields[3] != "0A" {
			continue
		}

		// Field 1: local_address (IP:Port, port in hex).
		parts := strings.Split(fields[1], ":")
		if len(parts) != 2 {
			continue
		}
		port, err := strconv.ParseInt(parts[1], 16, 32)
		if err != nil {
			continue
		}

		// Field 9: inode.
		inodePorts[fields[9]] = int(port)
	}
	return scanner.Err()
}

// socketPortForPid scans /proc/[pid]/fd for socket links matching one of
// the listening inodes and returns the lowest matching port.
func socketPortForPid(pid int, inodePorts map[string]int) (int, bool) {
	fdDir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	fds, err := os.ReadDir(fdDir)
	if err != nil {
		return 0, false // Can't read fd dir (permission denied, etc.)
	}

	best := 0
	found := false
	for _, fd := range fds {
		info, err := fd.Info()
		if err != nil {
			continue
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			continue
		}

		linkPath, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
		if err != nil {
			continue
		}
		if !strings.HasPrefix(linkPath, "socket:[") || !strings.HasSuffix(linkPath, "]") {
			continue
		}

		inode := linkPath[len("socket:[") : len(linkPath)-1]
		port, ok := inodePorts[inode]
		if !ok {
			continue
		}
		if !found || port < best {
			best = port
			found = true
		}
	}
	return best, found
}

// ListPids returns a list of all running process IDs from /proc.
// Pids are sorted in ascending order.
func ListPids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Parse PID from directory name.
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a numeric directory.
		}

		if pid > 0 {
			pids = append(pids, pid)
		}
	}
	// Sort PIDs (lowest first).
	sort.Ints(pids)

	return pids, nil
}

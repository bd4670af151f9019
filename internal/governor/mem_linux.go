package governor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func readMemInfo() (MemInfo, error) {
	total, err := readTotalRAM()
	if err != nil {
		return MemInfo{}, err
	}
	resident, err := readResident()
	if err != nil {
		return MemInfo{}, err
	}
	return MemInfo{ResidentBytes: resident, TotalBytes: total}, nil
}

func readTotalRAM() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("open /proc/meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.TrimSuffix(fields[0], ":") != "MemTotal" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemTotal: %w", err)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
}

// readResident parses the second field of /proc/self/statm (resident pages).
func readResident() (uint64, error) {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("read /proc/self/statm: %w", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) < 2 {
		return 0, fmt.Errorf("unexpected /proc/self/statm format")
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse resident pages: %w", err)
	}
	return pages * uint64(os.Getpagesize()), nil
}

package backfill

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// memAvailable reads MemTotal and MemAvailable, in kB, from a
// /proc/meminfo listing. ok is false when either line is missing.
func memAvailable(r io.Reader) (total, available uint64, ok bool) {
	var haveTotal, haveAvailable bool
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, rest, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		value, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "MemTotal":
			total, haveTotal = value, true
		case "MemAvailable":
			available, haveAvailable = value, true
		}
	}
	return total, available, haveTotal && haveAvailable && total > 0
}

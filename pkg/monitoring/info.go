package monitoring

import (
	"strconv"
	"strings"
)

// parseInfo parses the INFO command bulk reply into a flat key/value map.
// Section headers and comments are skipped.
func parseInfo(raw string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		out[line[:idx]] = line[idx+1:]
	}
	return out
}

func infoInt(info map[string]string, key string) int64 {
	v, err := strconv.ParseInt(info[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func infoFloat(info map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(info[key], 64)
	if err != nil {
		return 0
	}
	return v
}

// totalKeys sums the key counts of all keyspace sections, which INFO
// reports as "db0:keys=N,expires=M,avg_ttl=..."
func totalKeys(info map[string]string) int64 {
	var total int64
	for key, value := range info {
		if !strings.HasPrefix(key, "db") {
			continue
		}
		for _, part := range strings.Split(value, ",") {
			if strings.HasPrefix(part, "keys=") {
				if n, err := strconv.ParseInt(part[len("keys="):], 10, 64); err == nil {
					total += n
				}
			}
		}
	}
	return total
}

// hitRate computes the keyspace hit rate, zero when there is no traffic
func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

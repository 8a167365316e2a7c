package stats

// IncludeLists is the field-inclusion policy applied when snapshots are
// rendered into profile logs. Keys are sections ("node", "node.cpu",
// "proxy.frontend", ...), values are the fields to include.
type IncludeLists map[string][]string

// Has reports whether a field is included for the given section.
// An unknown section includes nothing.
func (l IncludeLists) Has(section, field string) bool {
	for _, f := range l[section] {
		if f == field {
			return true
		}
	}
	return false
}

// Fields returns the included fields for a section, in policy order.
func (l IncludeLists) Fields(section string) []string {
	return l[section]
}

// DefaultIncludeLists is the globally fixed inclusion policy the profiling
// manager binds to every profile log it creates.
var DefaultIncludeLists = IncludeLists{
	// Node stats.
	"node":           {"utc_timestamp", "cpu", "memory", "partitions", "loadavg"},
	"node.cpu":       {"percent", "count"},
	"node.memory":    {"available", "total"},
	"node.partition": {"free", "used"},
	"node.loadavg":   {"last_5min"},
	// Processes stats.
	"process":                    {"service_name", "port", "cpu", "memory", "children_stats_sum"},
	"process.cpu":                {"user", "system", "percent"},
	"process.memory":             {"resident", "virtual"},
	"process.children_stats_sum": {"cpu_percent", "memory_resident"},
	// Proxies stats.
	"proxy":          {"name", "frontend", "backend", "servers_count"},
	"proxy.frontend": {"bin", "bout", "scur", "smax", "rate", "req_rate", "req_tot", "hrsp_4xx", "hrsp_5xx"},
	"proxy.backend":  {"qcur", "scur", "hrsp_5xx", "qtime", "rtime"},
}

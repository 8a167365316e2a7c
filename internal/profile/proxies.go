package profile

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/profiling"
	"github.com/statshive/statshive/internal/stats"
)

var proxySummaryColumns = []string{
	"utc_timestamp", "frontend_scur", "frontend_rate", "frontend_req_rate",
	"frontend_hrsp_4xx", "frontend_hrsp_5xx", "backend_qcur", "backend_scur",
	"servers_count",
}

// ProxiesLog writes cluster proxies snapshots as per-proxy files, laid
// out as <root>/proxies/<ip>/<proxy>.csv. In detailed mode it also writes
// the full include-lists column set into <proxy>-detailed.csv.
type ProxiesLog struct {
	include  stats.IncludeLists
	detailed []string
	tables   *tableSet
	logger   zerolog.Logger

	// writeDetailed is only read and toggled on the profiling run loop.
	writeDetailed bool
}

// NewProxiesLog creates a proxies profile log rooted at dir.
func NewProxiesLog(dir string, include stats.IncludeLists, logger zerolog.Logger) *ProxiesLog {
	return &ProxiesLog{
		include:  include,
		detailed: proxyDetailedColumns(include),
		tables:   newTableSet(dir),
		logger:   logger.With().Str("component", "proxies_profile_log").Logger(),
	}
}

// SetWriteDetailed toggles full-column detail rows.
func (l *ProxiesLog) SetWriteDetailed(detailed bool) {
	l.writeDetailed = detailed
}

// Write appends one summary row per (LB node, proxy) and, in detailed
// mode, one full row.
func (l *ProxiesLog) Write(snapshot profiling.Snapshot) error {
	cluster, ok := snapshot.(stats.ClusterProxies)
	if !ok {
		return fmt.Errorf("unexpected snapshot type %T", snapshot)
	}

	for _, ip := range sortedKeys(cluster) {
		snap := cluster[ip]
		for _, proxy := range snap.Proxies {
			t, err := l.tables.table(
				fmt.Sprintf("proxies/%s/%s.csv", ip, proxy.Name),
				proxySummaryColumns,
			)
			if err != nil {
				return err
			}
			if err := t.append(proxySummaryRow(snap.UTCTimestamp, proxy)); err != nil {
				return err
			}

			if !l.writeDetailed {
				continue
			}
			dt, err := l.tables.table(
				fmt.Sprintf("proxies/%s/%s-detailed.csv", ip, proxy.Name),
				l.detailed,
			)
			if err != nil {
				return err
			}
			if err := dt.append(l.proxyDetailedRow(snap.UTCTimestamp, proxy)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes all per-proxy files.
func (l *ProxiesLog) Close() error {
	return l.tables.Close()
}

func proxySummaryRow(ts int64, p stats.ProxyStats) []string {
	return []string{
		fmtI64(ts),
		fmtU(p.Frontend.CurrentConns), fmtU(p.Frontend.Rate), fmtU(p.Frontend.RequestRate),
		fmtU(p.Frontend.Responses4xx), fmtU(p.Frontend.Responses5xx),
		fmtU(p.Backend.QueuedRequests), fmtU(p.Backend.CurrentConns),
		fmtI(p.ServersCount),
	}
}

// proxyDetailedColumns flattens the proxy include lists into CSV column
// names.
func proxyDetailedColumns(include stats.IncludeLists) []string {
	cols := []string{"utc_timestamp"}
	for _, field := range include.Fields("proxy") {
		switch field {
		case "servers_count":
			cols = append(cols, "servers_count")
		case "frontend":
			for _, sub := range include.Fields("proxy.frontend") {
				cols = append(cols, "frontend_"+sub)
			}
		case "backend":
			for _, sub := range include.Fields("proxy.backend") {
				cols = append(cols, "backend_"+sub)
			}
		}
	}
	return cols
}

func (l *ProxiesLog) proxyDetailedRow(ts int64, p stats.ProxyStats) []string {
	row := []string{fmtI64(ts)}
	for _, field := range l.include.Fields("proxy") {
		switch field {
		case "servers_count":
			row = append(row, fmtI(p.ServersCount))
		case "frontend":
			for _, sub := range l.include.Fields("proxy.frontend") {
				row = append(row, fmtU(frontendField(p.Frontend, sub)))
			}
		case "backend":
			for _, sub := range l.include.Fields("proxy.backend") {
				row = append(row, fmtU(backendField(p.Backend, sub)))
			}
		}
	}
	return row
}

func frontendField(f stats.ProxyFrontend, name string) uint64 {
	switch name {
	case "bin":
		return f.BytesIn
	case "bout":
		return f.BytesOut
	case "scur":
		return f.CurrentConns
	case "smax":
		return f.MaxConns
	case "rate":
		return f.Rate
	case "req_rate":
		return f.RequestRate
	case "req_tot":
		return f.RequestsTotal
	case "hrsp_4xx":
		return f.Responses4xx
	case "hrsp_5xx":
		return f.Responses5xx
	}
	return 0
}

func backendField(b stats.ProxyBackend, name string) uint64 {
	switch name {
	case "qcur":
		return b.QueuedRequests
	case "scur":
		return b.CurrentConns
	case "hrsp_5xx":
		return b.Responses5xx
	case "qtime":
		return b.QueueTimeMs
	case "rtime":
		return b.ResponseTimeMs
	}
	return 0
}

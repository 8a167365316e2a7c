package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/statshive/statshive/internal/profiling"
)

// haproxyTimeout bounds one stats socket conversation.
const haproxyTimeout = 5 * time.Second

// ProxiesStatsSource collects HAProxy proxy stats from the local stats
// socket. It is only meaningful on LB nodes.
type ProxiesStatsSource struct {
	socketPath string
	logger     zerolog.Logger
	cache      snapshotCache
}

// NewProxiesStatsSource creates a proxies stats source reading the given
// HAProxy stats unix socket.
func NewProxiesStatsSource(socketPath string, logger zerolog.Logger) *ProxiesStatsSource {
	return &ProxiesStatsSource{
		socketPath: socketPath,
		logger:     logger.With().Str("component", "proxies_stats").Logger(),
	}
}

// Fetch returns the local proxies snapshot, reusing a cached one when it
// is no staler than maxAge.
func (s *ProxiesStatsSource) Fetch(ctx context.Context, maxAge time.Duration) (profiling.Snapshot, []string, error) {
	if snap, failures, ok := s.cache.get(maxAge); ok {
		return snap, failures, nil
	}

	proxies, err := s.collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	snap := ProxiesStats{
		UTCTimestamp: time.Now().UTC().Unix(),
		Proxies:      proxies,
	}

	s.cache.put(snap, nil)
	s.logger.Debug().Int("proxies", len(proxies)).Msg("Collected proxies stats")
	return snap, nil, nil
}

func (s *ProxiesStatsSource) collect(ctx context.Context) ([]ProxyStats, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to haproxy socket: %w", err)
	}
	defer conn.Close() // nolint:errcheck

	deadline := time.Now().Add(haproxyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set socket deadline: %w", err)
	}

	if _, err := io.WriteString(conn, "show stat\n"); err != nil {
		return nil, fmt.Errorf("failed to query haproxy stats: %w", err)
	}

	proxies, err := parseHAProxyStats(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse haproxy stats: %w", err)
	}
	return proxies, nil
}

// parseHAProxyStats parses the CSV produced by HAProxy's "show stat"
// command. Rows are grouped by proxy name; the FRONTEND and BACKEND rows
// carry the counters, every other row is a backend server.
func parseHAProxyStats(r io.Reader) ([]ProxyStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // HAProxy versions differ in column count.
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header row: %w", err)
	}
	// The header starts with "# pxname".
	header[0] = strings.TrimPrefix(header[0], "# ")
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"pxname", "svname"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("unexpected header row: no %s column", required)
		}
	}

	byName := make(map[string]*ProxyStats)
	var order []string

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		// Diagnostic or truncated lines have too few fields to name a
		// proxy row; skip them.
		if len(row) <= col["pxname"] || len(row) <= col["svname"] {
			continue
		}

		name := row[col["pxname"]]
		p, ok := byName[name]
		if !ok {
			p = &ProxyStats{Name: name}
			byName[name] = p
			order = append(order, name)
		}

		field := func(column string) uint64 {
			i, ok := col[column]
			if !ok || i >= len(row) {
				return 0
			}
			v, err := strconv.ParseUint(row[i], 10, 64)
			if err != nil {
				return 0 // Empty and non-numeric cells count as zero.
			}
			return v
		}

		switch row[col["svname"]] {
		case "FRONTEND":
			p.Frontend = ProxyFrontend{
				BytesIn:       field("bin"),
				BytesOut:      field("bout"),
				CurrentConns:  field("scur"),
				MaxConns:      field("smax"),
				Rate:          field("rate"),
				RequestRate:   field("req_rate"),
				RequestsTotal: field("req_tot"),
				Responses4xx:  field("hrsp_4xx"),
				Responses5xx:  field("hrsp_5xx"),
			}
		case "BACKEND":
			p.Backend = ProxyBackend{
				QueuedRequests: field("qcur"),
				CurrentConns:   field("scur"),
				Responses5xx:   field("hrsp_5xx"),
				QueueTimeMs:    field("qtime"),
				ResponseTimeMs: field("rtime"),
			}
		default:
			p.ServersCount++
		}
	}

	proxies := make([]ProxyStats, 0, len(order))
	for _, name := range order {
		proxies = append(proxies, *byName[name])
	}
	return proxies, nil
}

package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkoval/netpatch/pkg/deploy"
)

// serverStats accumulates deployment counters the collector exposes.
type serverStats struct {
	mu             sync.Mutex
	runs           map[string]uint64 // outcome -> count
	devices        map[string]uint64 // final state -> count
	commands       uint64
	lastRunSeconds float64
}

func (st *serverStats) recordDeploy(rep *deploy.Report, elapsed time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.runs == nil {
		st.runs = make(map[string]uint64)
		st.devices = make(map[string]uint64)
	}
	st.runs[rep.Outcome()]++
	for _, r := range rep.Results {
		st.devices[r.State.String()]++
		st.commands += uint64(r.Commands)
	}
	st.lastRunSeconds = elapsed.Seconds()
}

func (st *serverStats) snapshot() (runs, devices map[string]uint64, commands uint64, lastRun float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	runs = make(map[string]uint64, len(st.runs))
	for k, v := range st.runs {
		runs[k] = v
	}
	devices = make(map[string]uint64, len(st.devices))
	for k, v := range st.devices {
		devices[k] = v
	}
	return runs, devices, st.commands, st.lastRunSeconds
}

// netpatchCollector implements prometheus.Collector over the server's
// deployment counters.
type netpatchCollector struct {
	srv *Server

	runsTotal       *prometheus.Desc
	devicesTotal    *prometheus.Desc
	commandsTotal   *prometheus.Desc
	lastRunDuration *prometheus.Desc
	uptimeSeconds   *prometheus.Desc
}

func newCollector(srv *Server) *netpatchCollector {
	return &netpatchCollector{
		srv: srv,

		runsTotal: prometheus.NewDesc(
			"netpatch_deploy_runs_total",
			"Deployment runs by outcome.",
			[]string{"outcome"}, nil,
		),
		devicesTotal: prometheus.NewDesc(
			"netpatch_deploy_devices_total",
			"Devices deployed by final state.",
			[]string{"state"}, nil,
		),
		commandsTotal: prometheus.NewDesc(
			"netpatch_deploy_commands_total",
			"Patch commands sent to devices.",
			nil, nil,
		),
		lastRunDuration: prometheus.NewDesc(
			"netpatch_deploy_last_run_duration_seconds",
			"Wall time of the most recent deployment run.",
			nil, nil,
		),
		uptimeSeconds: prometheus.NewDesc(
			"netpatch_uptime_seconds",
			"Seconds since the server started.",
			nil, nil,
		),
	}
}

func (c *netpatchCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsTotal
	ch <- c.devicesTotal
	ch <- c.commandsTotal
	ch <- c.lastRunDuration
	ch <- c.uptimeSeconds
}

func (c *netpatchCollector) Collect(ch chan<- prometheus.Metric) {
	runs, devices, commands, lastRun := c.srv.stats.snapshot()
	for outcome, n := range runs {
		ch <- prometheus.MustNewConstMetric(c.runsTotal, prometheus.CounterValue, float64(n), outcome)
	}
	for state, n := range devices {
		ch <- prometheus.MustNewConstMetric(c.devicesTotal, prometheus.CounterValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.commandsTotal, prometheus.CounterValue, float64(commands))
	ch <- prometheus.MustNewConstMetric(c.lastRunDuration, prometheus.GaugeValue, lastRun)
	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, time.Since(c.srv.startTime).Seconds())
}

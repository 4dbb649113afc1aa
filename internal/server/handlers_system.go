package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handlePing is the liveness probe distinct from /status, returning
// just process-up for load-balancer health checks (spec §6 supplement).
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "message": "pong"})
}

// handleStatus reports engine health (spec §6 supplement), following
// the teacher's system_handlers.go getSystemStats idiom: a short
// 100ms CPU sample and an instant memory read.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	cpuAvg := 0.0
	if err == nil && len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memPercent := 0.0
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"uptime_sec":  time.Since(s.cfg.StartedAt).Seconds(),
		"cpu_percent": cpuAvg,
		"mem_percent": memPercent,
		"dev_mode":    s.cfg.DevMode,
	})
}

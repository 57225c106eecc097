package monitor

import "fmt"

// Alert severities.
const (
	AlertInfo     = "INFO"
	AlertWarning  = "WARNING"
	AlertCritical = "CRITICAL"
)

// Quick status values derived from the worst active alert.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Alert is one threshold breach.
type Alert struct {
	Level     string  `json:"level"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

// Alerts evaluates the snapshot against the configured thresholds.
// A metric past its critical threshold raises one CRITICAL alert, not
// a WARNING as well.
func (m *Monitor) Alerts(s *Snapshot) []Alert {
	var alerts []Alert
	alerts = appendAlert(alerts, "cpu", s.CPU.Percent, m.thresholds.CPUWarning, m.thresholds.CPUCritical)
	alerts = appendAlert(alerts, "memory", s.Memory.Percent, m.thresholds.MemoryWarning, m.thresholds.MemoryCritical)
	alerts = appendAlert(alerts, "disk", s.Disk.Percent, m.thresholds.DiskWarning, m.thresholds.DiskCritical)
	return alerts
}

// QuickStatus reduces the snapshot to healthy / warning / critical.
func (m *Monitor) QuickStatus(s *Snapshot) string {
	status := StatusHealthy
	for _, a := range m.Alerts(s) {
		switch a.Level {
		case AlertCritical:
			return StatusCritical
		case AlertWarning:
			status = StatusWarning
		}
	}
	return status
}

func appendAlert(alerts []Alert, metric string, value, warning, critical float64) []Alert {
	switch {
	case critical > 0 && value >= critical:
		return append(alerts, Alert{
			Level:     AlertCritical,
			Metric:    metric,
			Value:     value,
			Threshold: critical,
			Message:   fmt.Sprintf("%s usage %.1f%% exceeds critical threshold %.0f%%", metric, value, critical),
		})
	case warning > 0 && value >= warning:
		return append(alerts, Alert{
			Level:     AlertWarning,
			Metric:    metric,
			Value:     value,
			Threshold: warning,
			Message:   fmt.Sprintf("%s usage %.1f%% exceeds warning threshold %.0f%%", metric, value, warning),
		})
	}
	return alerts
}

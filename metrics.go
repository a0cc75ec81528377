package passport

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds the session counters. A nil *Metrics records nothing.
type Metrics struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	followers prometheus.Counter
	logouts   prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_refreshes_total",
			Help: "Refresh endpoint calls by result.",
		}, []string{"result"}),
		followers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_refresh_followers_total",
			Help: "Callers that waited on an in-flight refresh instead of issuing their own.",
		}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "passport_logouts_total",
			Help: "Times the persisted session was cleared.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.followers, m.logouts)
	}

	return m
}

func (m *Metrics) login(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) follower() {
	if m == nil {
		return
	}
	m.followers.Inc()
}

func (m *Metrics) logout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nubela_sessions_started_total",
		Help: "Voice sessions that reached the connecting state.",
	})

	SessionsErrored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nubela_sessions_errored_total",
		Help: "Voice sessions that ended in the errored state.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nubela_sessions_active",
		Help: "Voice sessions currently open.",
	})

	AudioFramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nubela_audio_frames_in_total",
		Help: "Microphone frames received from browsers.",
	})

	AudioFramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nubela_audio_frames_out_total",
		Help: "Model audio chunks scheduled for playback.",
	})

	Interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nubela_interruptions_total",
		Help: "Model turns cut off by user speech.",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nubela_tool_calls_total",
		Help: "Tool calls dispatched, by tool name and outcome.",
	}, []string{"tool", "status"})
)

// ObserveToolCall records one dispatched tool call.
func ObserveToolCall(name string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ToolCalls.WithLabelValues(name, status).Inc()
}

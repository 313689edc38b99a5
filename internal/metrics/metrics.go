// Package metrics holds the Prometheus collectors shared by the transcript
// synchronizer and the channel transport. Collectors work unregistered, so
// packages can update them in tests; the daemon registers them once.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "zhchat"

var (
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transcript",
		Name:      "events_total",
		Help:      "Inbound transport events handled by the synchronizer, by event.",
	}, []string{"event"})

	DuplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transcript",
		Name:      "duplicates_dropped_total",
		Help:      "Messages dropped because their id was already in the transcript.",
	})

	PagesRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transcript",
		Name:      "pages_requested_total",
		Help:      "Older-history pages requested from the server.",
	})

	StalePages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transcript",
		Name:      "stale_pages_total",
		Help:      "History page responses that arrived outside LoadingMore.",
	})

	TranscriptLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transcript",
		Name:      "messages",
		Help:      "Messages held in the open conversation's transcript.",
	})

	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "frames_sent_total",
		Help:      "Frames written to the chat server, by envelope type.",
	}, []string{"type"})

	MalformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "malformed_frames_total",
		Help:      "Inbound frames that could not be decoded.",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "reconnects_total",
		Help:      "Connection attempts after the first one.",
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		EventsTotal,
		DuplicatesDropped,
		PagesRequested,
		StalePages,
		TranscriptLength,
		FramesSent,
		MalformedFrames,
		Reconnects,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	availabilityFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorbook",
			Name:      "availability_fetch_total",
			Help:      "Count of tutor availability fetches by status.",
		},
		[]string{"status"},
	)

	staleDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutorbook",
			Name:      "availability_stale_discarded_total",
			Help:      "Count of availability responses dropped because a newer request superseded them.",
		},
	)

	draftValidation = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorbook",
			Name:      "draft_validation_total",
			Help:      "Count of lesson draft validations by result.",
		},
		[]string{"result"},
	)

	lessonCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorbook",
			Name:      "lesson_created_total",
			Help:      "Count of lesson submissions to the backend by status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutorbook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(availabilityFetch, staleDiscarded, draftValidation, lessonCreated, httpRequests)
	})
}

func IncAvailabilityFetch(status string) {
	availabilityFetch.WithLabelValues(status).Inc()
}

func IncStaleDiscarded() {
	staleDiscarded.Inc()
}

func IncDraftValidation(result string) {
	draftValidation.WithLabelValues(result).Inc()
}

func IncLessonCreated(status string) {
	lessonCreated.WithLabelValues(status).Inc()
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}

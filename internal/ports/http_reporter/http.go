package http_reporter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fllarpy/stackprobe/domain"
	"github.com/fllarpy/stackprobe/domain/profile"
)

// ProfileSummary is the JSON shape served for one completed profile.
type ProfileSummary struct {
	Samples                int           `json:"samples"`
	Modules                int           `json:"modules"`
	Duration               time.Duration `json:"duration_ns"`
	SamplingInterval       time.Duration `json:"sampling_interval_ns"`
	PreserveSampleOrdering bool          `json:"preserve_sample_ordering"`
}

// NewHandler creates an HTTP handler that drains the completed-profile
// store and serves summaries of what was queued as a JSON array. Each
// request consumes the queued profiles; this is RetrieveAndClear behind
// HTTP, meant for a single polling consumer.
func NewHandler(source domain.ProfileSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profiles := source.RetrieveAndClear()

		summaries := make([]ProfileSummary, 0, len(profiles))
		for _, p := range profiles {
			summaries = append(summaries, summarize(p))
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(summaries); err != nil {
			// If encoding fails, it's a server-side problem.
			http.Error(w, "Failed to encode profiles to JSON", http.StatusInternalServerError)
		}
	})
}

func summarize(p *profile.Profile) ProfileSummary {
	return ProfileSummary{
		Samples:                len(p.Samples),
		Modules:                len(p.Modules),
		Duration:               p.ProfileDuration,
		SamplingInterval:       p.SamplingInterval,
		PreserveSampleOrdering: p.PreserveSampleOrdering,
	}
}

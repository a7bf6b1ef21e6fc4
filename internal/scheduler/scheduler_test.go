package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cark-backend/internal/config"
	"cark-backend/internal/jobs"
)

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want int
	}{
		{"Valid", "0 */5 * * * *", 1},
		{"Invalid", "every five minutes", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Scheduler: config.SchedulerConfig{CancelExpiredDeposits: tt.spec}}
			s := NewScheduler(jobs.NewJobRunner(&jobs.Services{}, nil, cfg))
			assert.Equal(t, tt.want, s.JobCount())

			s.Start()
			s.Stop()
		})
	}
}

package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// ProgressFunc reports completion percentage of a running job
type ProgressFunc func(ctx context.Context, percent int)

// Executor performs the work of one feature type
type Executor interface {
	Execute(ctx context.Context, job *domain.JobRecord, payload domain.Payload, report ProgressFunc) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *domain.JobRecord, payload domain.Payload, report ProgressFunc) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, job *domain.JobRecord, payload domain.Payload, report ProgressFunc) (map[string]any, error) {
	return f(ctx, job, payload, report)
}

// DefaultExecutors returns the built-in simulated executors; each step sleeps stepDelay
func DefaultExecutors(stepDelay time.Duration) map[domain.FeatureType]Executor {
	return map[domain.FeatureType]Executor{
		domain.FeatureSummarization: ExecutorFunc(func(ctx context.Context, _ *domain.JobRecord, p domain.Payload, report ProgressFunc) (map[string]any, error) {
			in := p.Summarization
			if err := runSteps(ctx, 4, stepDelay, report); err != nil {
				return nil, err
			}
			words := len(strings.Fields(in.Text))
			if in.MaxWords > 0 && words > in.MaxWords {
				words = in.MaxWords
			}
			return map[string]any{
				"source_id":     in.SourceID,
				"summary_words": words,
			}, nil
		}),

		domain.FeatureRepurposing: ExecutorFunc(func(ctx context.Context, _ *domain.JobRecord, p domain.Payload, report ProgressFunc) (map[string]any, error) {
			in := p.Repurposing
			if err := runSteps(ctx, len(in.Formats), stepDelay, report); err != nil {
				return nil, err
			}
			outputs := make(map[string]any, len(in.Formats))
			for _, f := range in.Formats {
				outputs[f] = fmt.Sprintf("%s/%s", in.SourceID, f)
			}
			return map[string]any{"source_id": in.SourceID, "outputs": outputs}, nil
		}),

		domain.FeatureTranscription: ExecutorFunc(func(ctx context.Context, _ *domain.JobRecord, p domain.Payload, report ProgressFunc) (map[string]any, error) {
			in := p.Transcription
			// one step per started ten minutes of audio
			steps := int(in.DurationSeconds/600) + 1
			if err := runSteps(ctx, steps, stepDelay, report); err != nil {
				return nil, err
			}
			return map[string]any{
				"audio_url": in.AudioURL,
				"segments":  steps,
				"diarized":  in.Diarize,
			}, nil
		}),
	}
}

// runSteps sleeps through n steps, reporting progress after each
func runSteps(ctx context.Context, n int, delay time.Duration, report ProgressFunc) error {
	if n <= 0 {
		n = 1
	}
	for i := 1; i <= n; i++ {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("job execution canceled: %w", ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("job execution canceled: %w", err)
		}
		report(ctx, i*100/n)
	}
	return nil
}

package source

import (
	"context"
	"errors"
	"time"

	"bv2src/pkg/logging"
)

// Outcome is the result of one subject of a batch
type Outcome struct {
	Subject  string
	Result   *Result
	Err      error
	Duration time.Duration
}

// OK reports whether the subject completed
func (o Outcome) OK() bool { return o.Err == nil }

// RunBatch runs subjects one after the other. A failing subject does not
// stop the batch; its error is kept in its Outcome and joined into the
// returned error. Cancelling ctx stops the batch before the next subject.
func (p *Pipeline) RunBatch(ctx context.Context, subjects []string) ([]Outcome, error) {
	log := logging.FromContext(ctx)
	outcomes := make([]Outcome, 0, len(subjects))
	var errs []error

	for i, subject := range subjects {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("remaining", len(subjects)-i).Msg("batch cancelled")
			errs = append(errs, err)
			break
		}

		start := time.Now()
		res, err := p.Run(ctx, subject)
		o := Outcome{Subject: subject, Result: res, Err: err, Duration: time.Since(start)}
		outcomes = append(outcomes, o)

		if err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("subject failed")
			errs = append(errs, err)
			continue
		}
		log.Info().Str("subject", subject).Dur("duration", o.Duration).Msg("subject done")
	}

	return outcomes, errors.Join(errs...)
}

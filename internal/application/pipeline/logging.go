package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Logging logs the start and end of every command with its outcome. It never
// alters the result.
func Logging[C, R any](command string, logger zerolog.Logger, metrics MetricsRecorder) Decorator[C, R] {
	log := logger.With().Str("command", command).Logger()

	return func(next Handler[C, R]) Handler[C, R] {
		return func(ctx context.Context, cmd C) (R, error) {
			start := time.Now()
			log.Debug().Msg("command started")

			res, err := next(ctx, cmd)

			elapsed := time.Since(start)
			outcome := Classify(err)
			if metrics != nil {
				metrics.ObserveCommand(command, string(outcome), elapsed)
			}

			switch outcome {
			case OutcomeSuccess:
				log.Info().Str("outcome", string(outcome)).Dur("duration", elapsed).Msg("command finished")
			case OutcomeValidation:
				evt := log.Error().Str("outcome", string(outcome)).Dur("duration", elapsed)
				arr := zerolog.Arr()
				for _, fe := range FieldErrors(err) {
					arr.Dict(zerolog.Dict().Str("field", fe.Field).Str("message", fe.Message))
				}
				evt.Array("validation_errors", arr).Msg("command rejected")
			default:
				log.Error().Err(err).Str("outcome", string(outcome)).Dur("duration", elapsed).Msg("command failed")
			}

			return res, err
		}
	}
}

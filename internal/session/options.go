package session

import "log/slog"

// Opt is a function that modifies a Session before its actor starts.
type Opt func(s *Session)

func WithLogger(log *slog.Logger) Opt {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithWarmupTicks overrides how many ticks a freshly loaded console runs
// before the first frame is returned.
func WithWarmupTicks(n int) Opt {
	return func(s *Session) {
		if n >= 0 {
			s.warmupTicks = n
		}
	}
}

// WithMaxTicksPerCommand bounds the tick counts accepted by PressInput and
// Advance.
func WithMaxTicksPerCommand(n int) Opt {
	return func(s *Session) {
		if n > 0 {
			s.maxTicks = n
		}
	}
}

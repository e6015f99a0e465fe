package worker

import "context"

type logWriterKey struct{}

func withLogWriter(ctx context.Context, s *logShipper) context.Context {
	return context.WithValue(ctx, logWriterKey{}, s)
}

// Log appends a line to the executing call's log stream. A registered
// StageFunc calls this in place of printing to stdout/stderr — the worker
// ships batches to the control plane exactly as if it had captured a
// subprocess's output (spec.md §4.6). A no-op if ctx carries no shipper
// (e.g. a StageFunc invoked outside Worker.execute, such as in a test).
func Log(ctx context.Context, line string) {
	if s, ok := ctx.Value(logWriterKey{}).(*logShipper); ok {
		s.Write(line)
	}
}

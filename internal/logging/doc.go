// Package logging provides structured logging for ctxrouter.
//
// Logger wraps Zap with context-aware methods. Every call pulls trace
// correlation and routing identifiers (session, operation, request) out of
// the context so log lines from one request can be joined with its spans.
//
//	logger, err := logging.NewLogger(logging.FromConfig(cfg.Logging, false), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	logger.Info(ctx, "request routed", zap.String("strategy", "parallel"))
//
// Output includes the correlation fields:
//
//	{"level":"info","msg":"request routed","session.id":"sess_123","strategy":"parallel"}
//
// Components below the command layer accept a plain *zap.Logger; use
// Underlying to hand one over.
//
// Levels below Error are sampled when sampling is enabled. A custom Trace
// level (-2) sits below Debug for per-rule analyzer output.
package logging

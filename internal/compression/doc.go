// Package compression shrinks contextual payloads under resource pressure
// with a measured preservation guarantee.
//
// # Levels
//
// Pressure in [0,1] selects one of five levels. Each level adds techniques
// to the one below and lowers the minimum preservation score it promises:
//
//	Level 1 minimal     0.00-0.40  0.98  whitespace only
//	Level 2 efficient   0.40-0.70  0.95  + symbol substitution
//	Level 3 compressed  0.70-0.85  0.90  + abbreviations
//	Level 4 critical    0.85-0.95  0.85  + aggressive structural rewrite
//	Level 5 emergency   0.95-1.00  0.80  + maximal reduction
//
// PROTECTED content is never modified (level 0). USER content never goes
// above level 1.
//
// # Protected segments
//
// Fenced and inline code, URLs, markdown links and file paths are cut out
// before any pass runs and reassembled byte for byte afterwards. Passes
// only ever see prose.
//
// # Quality
//
// The preservation score weighs key-term retention (0.5), code fidelity
// (0.3) and reference integrity (0.2). Key terms are compared after both
// texts are expanded back through the substitution tables, so a
// substitution on its own never costs retention. A result below its
// level's threshold is retried one level down; if that also fails, the
// level 1 result is returned with QualityShortfall set.
//
// # Usage
//
//	engine, err := compression.NewEngine(
//		compression.WithCache(c),
//		compression.WithEstimator(store),
//	)
//	res := engine.Compress(ctx, compression.Request{
//		Content:        text,
//		Classification: compression.Session,
//		Pressure:       0.9,
//	})
package compression

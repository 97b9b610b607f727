//go:build !unix

package learning

import "os"

// Advisory locking is unix-only; elsewhere a single process owns the log.

func lockExclusive(*os.File) error { return nil }
func lockShared(*os.File) error    { return nil }
func unlock(*os.File) error        { return nil }

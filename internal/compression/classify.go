package compression

import (
	"regexp"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// userTurnRegex marks text typed by the user rather than produced during the
// session.
var userTurnRegex = regexp.MustCompile(`(?m)^(?:Human|User):\s+`)

// secretDetector builds the gitleaks detector once. Loading the default
// rule set compiles several hundred patterns.
var (
	secretDetector = sync.OnceValues(func() (*detect.Detector, error) {
		return detect.NewDetectorDefaultConfig()
	})
	detectMu sync.Mutex
)

// ContainsSecret reports whether gitleaks finds a credential in content. A
// detector that fails to load reports true so content is left untouched.
func ContainsSecret(content string) bool {
	d, err := secretDetector()
	if err != nil {
		return true
	}
	detectMu.Lock()
	defer detectMu.Unlock()
	return len(d.DetectString(content)) > 0
}

// Classify assigns a classification to unlabelled content: anything holding
// a secret is Protected, user turns are User, the rest is Session.
func Classify(content string) Classification {
	if ContainsSecret(content) {
		return Protected
	}
	if userTurnRegex.MatchString(content) {
		return User
	}
	return Session
}

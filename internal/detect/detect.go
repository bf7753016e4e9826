// Package detect classifies TestFlight page content by substring signatures.
package detect

import (
	"strings"

	"github.com/nholik/testflight-sentinel/internal/state"
)

var (
	// fullSignatures mark a beta that accepts no new testers.
	fullSignatures = []string{
		"This beta is full",
		"This beta isn't accepting any new testers",
	}
	availableSignature = "View in TestFlight"
	// pageIdentity guards against pages that merely mention TestFlight.
	pageIdentity = "Testing Apps with TestFlight"
)

// Classify maps page content to a status. Rules are evaluated in order and the
// first match wins: any full signature, then the availability signature
// together with the page identity, otherwise unknown.
func Classify(content string) state.Status {
	for _, signature := range fullSignatures {
		if strings.Contains(content, signature) {
			return state.StatusFull
		}
	}
	if strings.Contains(content, availableSignature) && strings.Contains(content, pageIdentity) {
		return state.StatusAvailable
	}
	return state.StatusUnknown
}

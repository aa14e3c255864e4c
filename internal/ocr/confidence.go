package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate  = regexp.MustCompile(`20\d{2}[-年.]\d{1,2}[-月.]\d{1,2}`)
	reClock = regexp.MustCompile(`\d{2}:\d{2}`)
	reSeat  = regexp.MustCompile(`\d{1,2}车\d{1,3}`)
)

// heuristicConfidence scores how much the text looks like a ticket screen.
func heuristicConfidence(txt string) float32 {
	score := float32(0.2) // base
	if reDate.MatchString(txt) {
		score += 0.2
	}
	if reClock.MatchString(txt) {
		score += 0.15
	}
	if reSeat.MatchString(strings.ReplaceAll(txt, " ", "")) {
		score += 0.15
	}
	if strings.Contains(txt, "检票口") || strings.Contains(txt, "历时") {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}

package audit

import (
	"fmt"
	"strings"

	"hivecore/internal/types"
)

// Quality scan tuning. The aggregate score starts at 1.0 and each
// finding subtracts its penalty; the result must meet the configured
// threshold.
const (
	qualityMaxOutputBytes  = 256 * 1024
	qualityMaxNestingDepth = 8
	qualityDupPenalty      = 0.3
	qualitySizePenalty     = 0.2
	qualityNestingPenalty  = 0.2
	qualityCompliancePenalty = 0.3
)

// complianceViolations are patterns the compliance rules reject
// outright in generated output.
var complianceViolations = []string{
	"password = \"",
	"api_key = \"",
	"secret = \"",
	"eval(",
	"os.system(",
}

// scanQuality runs the static-analysis pass: size limit, duplication,
// nesting complexity, and compliance rules, aggregated into one score.
func scanQuality(result types.TaskResult, threshold float64) (bool, string) {
	output := result.Output
	if strings.TrimSpace(output) == "" && len(result.Artifacts) == 0 {
		return false, fmt.Sprintf("%v: empty output with no artifacts", types.ErrQualityFailure)
	}

	score := 1.0
	var findings []string

	if len(output) > qualityMaxOutputBytes {
		score -= qualitySizePenalty
		findings = append(findings, fmt.Sprintf("output exceeds size limit (%d > %d bytes)",
			len(output), qualityMaxOutputBytes))
	}

	if ratio := duplicateLineRatio(output); ratio > 0.3 {
		score -= qualityDupPenalty
		findings = append(findings, fmt.Sprintf("duplicate line ratio %.0f%%", ratio*100))
	}

	if depth := maxNestingDepth(output); depth > qualityMaxNestingDepth {
		score -= qualityNestingPenalty
		findings = append(findings, fmt.Sprintf("nesting depth %d exceeds %d", depth, qualityMaxNestingDepth))
	}

	lower := strings.ToLower(output)
	for _, pattern := range complianceViolations {
		if strings.Contains(lower, pattern) {
			score -= qualityCompliancePenalty
			findings = append(findings, "compliance violation: "+pattern)
		}
	}

	if score < threshold {
		return false, fmt.Sprintf("%v: score %.2f below threshold %.2f (%s)",
			types.ErrQualityFailure, score, threshold, strings.Join(findings, "; "))
	}
	if len(findings) > 0 {
		return true, fmt.Sprintf("score %.2f (findings: %s)", score, strings.Join(findings, "; "))
	}
	return true, fmt.Sprintf("score %.2f", score)
}

// duplicateLineRatio reports the share of non-blank lines that repeat
// an earlier line.
func duplicateLineRatio(output string) float64 {
	lines := strings.Split(output, "\n")
	seen := make(map[string]bool, len(lines))
	total, dups := 0, 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		total++
		if seen[trimmed] {
			dups++
		}
		seen[trimmed] = true
	}
	if total == 0 {
		return 0
	}
	return float64(dups) / float64(total)
}

// maxNestingDepth approximates complexity by the deepest leading
// indentation, counting one level per tab or four spaces.
func maxNestingDepth(output string) int {
	max := 0
	for _, line := range strings.Split(output, "\n") {
		depth := 0
		for i := 0; i < len(line); {
			switch {
			case line[i] == '\t':
				depth++
				i++
			case strings.HasPrefix(line[i:], "    "):
				depth++
				i += 4
			default:
				i = len(line)
			}
		}
		if depth > max {
			max = depth
		}
	}
	return max
}

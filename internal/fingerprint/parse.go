// Package fingerprint turns free-text failure evidence into stable,
// deterministic failure signatures.
//
// Everything in this package is pure: the same input text always yields the
// same exception type, frames and fingerprint id, with no I/O and no clock.
package fingerprint

import (
	"regexp"
	"strings"
)

const (
	// UnknownType is reported when no failure type can be recognized
	UnknownType = "Unknown"

	// MaxFrames bounds the frames kept by ParseEvidence
	MaxFrames = 10

	maxTypeLen = 200
)

// Marker text is matched case-insensitively. "Thread exception stack trace:"
// contains the shorter marker, so one needle covers both forms.
const markerNeedle = "exception stack trace:"

var (
	// frameRegex matches ".NET / JVM style" frame lines: "at Namespace.Type.Method(args) in path:line 42"
	frameRegex = regexp.MustCompile(`^\s*at\s+([^\s(]+)\s*(\s+in\s+[^\s]+:\s*line\s+\d+)?`)

	// typeTokenRegex pulls a qualified failure type name out of a line
	typeTokenRegex = regexp.MustCompile(`([A-Za-z_][\w.+` + "`" + `]*(?:Exception|Error))\b`)

	// Normalization patterns
	inPathRegex       = regexp.MustCompile(`\s+in\s+\S+:\s*line\s+\d+.*$`)
	lineSuffixRegex   = regexp.MustCompile(`:\s*line\s+\d+$`)
	argListRegex      = regexp.MustCompile(`\(.*\)$`)
	asyncStateRegex   = regexp.MustCompile(`<([^>]+)>d__\d+\.MoveNext$`)
	displayClassRegex = regexp.MustCompile(`DisplayClass\d+(_\d+)?`)
	lambdaOrdRegex    = regexp.MustCompile(`>b__\d+(_\d+)?`)
	jvmLambdaRegex    = regexp.MustCompile(`lambda\$([\w]+)\$\d+`)
)

// ParseEvidence extracts the failure type and normalized stack frames from a
// log message.
//
// A marker line ("Exception stack trace:" or "Thread exception stack trace:")
// names the type; when the marker carries no type the next non-frame line is
// used. Without a marker the type falls back to the first failure-type token
// found on a non-frame line, but only when frames are present. Anything else
// is reported as UnknownType with no frames.
func ParseEvidence(text string) (exceptionType string, frames []string) {
	var (
		markerSeen   bool
		awaitingType bool
		fallback     string
	)

	// Lines are split without a length cap; one oversized line must not hide
	// the frames after it.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := frameRegex.FindStringSubmatch(line); m != nil {
			if len(frames) < MaxFrames {
				if frame := NormalizeFrame(m[1]); frame != "" {
					frames = append(frames, frame)
				}
			}
			continue
		}

		if idx := strings.Index(strings.ToLower(line), markerNeedle); idx >= 0 {
			if !markerSeen {
				markerSeen = true
				exceptionType = typeFromMarker(line[idx+len(markerNeedle):])
				awaitingType = exceptionType == ""
			}
			continue
		}

		if awaitingType {
			exceptionType = typeFromMarker(trimmed)
			awaitingType = exceptionType == ""
			continue
		}

		if fallback == "" {
			if tok := typeTokenRegex.FindStringSubmatch(trimmed); tok != nil {
				fallback = tok[1]
			}
		}
	}

	if exceptionType != "" {
		return exceptionType, frames
	}
	if len(frames) > 0 && fallback != "" {
		return fallback, frames
	}
	if len(frames) > 0 {
		return UnknownType, frames
	}
	return UnknownType, nil
}

// typeFromMarker reduces "System.Foo.BarException: the message" to the type
func typeFromMarker(rest string) string {
	rest = strings.TrimSpace(rest)
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = strings.TrimSpace(rest[:i])
	}
	if len(rest) > maxTypeLen {
		rest = rest[:maxTypeLen]
	}
	return rest
}

// NormalizeFrame strips build-specific noise from a frame so that the same
// call site compares equal across machines and builds: file paths and line
// numbers, argument lists, and compiler-generated ordinals.
func NormalizeFrame(frame string) string {
	f := strings.TrimSpace(frame)
	f = strings.TrimPrefix(f, "at ")
	f = inPathRegex.ReplaceAllString(f, "")
	f = lineSuffixRegex.ReplaceAllString(f, "")
	f = argListRegex.ReplaceAllString(f, "")
	f = asyncStateRegex.ReplaceAllString(f, "$1")
	f = displayClassRegex.ReplaceAllString(f, "DisplayClass")
	f = lambdaOrdRegex.ReplaceAllString(f, ">b__")
	f = jvmLambdaRegex.ReplaceAllString(f, "lambda$$$1")

	// A bare path means the frame carried only location info; keep the file name
	if i := strings.LastIndexAny(f, `/\`); i >= 0 {
		f = f[i+1:]
	}
	return strings.TrimSpace(f)
}

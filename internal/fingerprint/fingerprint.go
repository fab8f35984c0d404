package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/steveyegge/triage/internal/types"
)

const (
	// HashFrames is how many leading frames contribute to the fingerprint
	HashFrames = 5

	// IDLength is the number of hex characters kept from the digest
	IDLength = 16
)

// ComputeFingerprint hashes the exception type and the first HashFrames
// frames into a short, stable identifier.
func ComputeFingerprint(exceptionType string, frames []string) string {
	top := TopFrames(frames)
	input := exceptionType + "|" + strings.Join(top, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// TopFrames returns the frames that contribute to the fingerprint
func TopFrames(frames []string) []string {
	if len(frames) > HashFrames {
		return frames[:HashFrames]
	}
	return frames
}

// Fingerprint parses text and returns the observation-ready triple
func Fingerprint(text string) (id, exceptionType string, frames []string) {
	exceptionType, frames = ParseEvidence(text)
	return ComputeFingerprint(exceptionType, frames), exceptionType, frames
}

// Op is the registry write an observation requires
type Op int

const (
	// OpNone means the stored entry already reflects the observation
	OpNone Op = iota
	// OpInsert means the fingerprint is new to the registry
	OpInsert
	// OpTouch means last-seen data must be updated
	OpTouch
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpTouch:
		return "touch"
	default:
		return "none"
	}
}

// Observe applies the registry upsert policy to one observation.
//
// An absent fingerprint is created with status new and first-seen equal to
// last-seen. An existing one only has its last-seen timestamp and labels
// moved forward; first-seen and status are never touched, and an observation
// older than the stored last-seen changes nothing.
func Observe(existing *types.Fingerprint, obs types.FingerprintObservation) (*types.Fingerprint, Op) {
	if existing == nil {
		return &types.Fingerprint{
			ID:            obs.FingerprintID,
			ExceptionType: obs.ExceptionType,
			TopFrames:     append([]string{}, TopFrames(obs.TopFrames)...),
			FirstSeenAt:   obs.Timestamp,
			LastSeenAt:    obs.Timestamp,
			LastService:   obs.Service,
			LastEnv:       obs.Env,
			LastVersion:   obs.Version,
			Status:        types.FingerprintNew,
		}, OpInsert
	}

	if obs.Timestamp.Before(existing.LastSeenAt) {
		return existing, OpNone
	}
	if obs.Timestamp.Equal(existing.LastSeenAt) &&
		obs.Service == existing.LastService &&
		obs.Env == existing.LastEnv &&
		obs.Version == existing.LastVersion {
		return existing, OpNone
	}

	next := *existing
	next.LastSeenAt = obs.Timestamp
	next.LastService = obs.Service
	next.LastEnv = obs.Env
	next.LastVersion = obs.Version
	return &next, OpTouch
}

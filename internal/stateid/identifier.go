// Package stateid derives content-addressed identifiers for screens so that
// two captures of the same logical screen collapse into one state.
package stateid

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	prefix    = "state_"
	hashChars = 8
)

// Identify returns state_<window>_<first 8 hex chars of md5(filtered rendering)>
func Identify(window, rendering string) string {
	sum := md5.Sum([]byte(FilterDynamic(rendering)))
	return prefix + ShortWindowName(window) + "_" + hex.EncodeToString(sum[:])[:hashChars]
}

// IdentifyArtifact hashes a rendering stored on disk. When the file cannot
// be read the screen gets a time-based id instead, which gives up
// deduplication for this capture but never fails.
func IdentifyArtifact(window, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		id := Fallback(window)
		logrus.Warnf("Rendering %s unavailable (%v), using fallback state id %s", path, err, id)
		return id
	}
	return Identify(window, string(data))
}

// Fallback returns a time-ordered pseudo id that will not collide with
// content-addressed ids
func Fallback(window string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + ShortWindowName(window) + "_t" + strings.ReplaceAll(id.String(), "-", "")
}

// IsFallback reports whether id was produced by Fallback
func IsFallback(id string) bool {
	i := strings.LastIndex(id, "_")
	return strings.HasPrefix(id, prefix) && i >= 0 && strings.HasPrefix(id[i+1:], "t") && len(id[i+1:]) == 33
}

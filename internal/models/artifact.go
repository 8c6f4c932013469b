package models

import (
	"path"
	"strings"
)

// DefaultFeedName is the portal's name for the ASX equities Stock Easy export
const DefaultFeedName = "ASXEQUITIESStockEasy"

const artifactExt = ".txt"

// ArtifactFileName returns the file name the portal produces for a date
func ArtifactFileName(feed string, date TradingDate) string {
	return feed + "-" + date.Key() + artifactExt
}

// ArtifactKey returns the object key for a date under prefix.
// The same date always maps to the same key.
func ArtifactKey(prefix, feed string, date TradingDate) string {
	return prefix + ArtifactFileName(feed, date)
}

// SourceFileName strips any prefix from an object key
func SourceFileName(key string) string {
	return path.Base(key)
}

// DateFromArtifactName extracts the trading date encoded in an artifact name
func DateFromArtifactName(name string) (TradingDate, bool) {
	base := strings.TrimSuffix(path.Base(name), artifactExt)
	i := strings.LastIndex(base, "-")
	if i < 0 {
		return TradingDate{}, false
	}
	d, err := ParseTradingDate(base[i+1:])
	if err != nil {
		return TradingDate{}, false
	}
	return d, true
}

package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"optionflow/models"
)

// Record kinds, the first path segment under every sink root.
const (
	KindOverview = "overview"
	KindOptions  = "options"
)

// ArtifactPath builds the file location of one record stream:
//
//	<root>/<kind>/<index>/<expiryCode>/<offset>/<date>.<ext>
//
// The offset segment is the signed strike-step count and is always present,
// including 0, so distinct offsets can never collide on a path. The date is
// expected in exchange-local time.
func ArtifactPath(root, kind, index string, code models.ExpiryCode, offset int, date time.Time, ext string) string {
	return filepath.Join(root, kind, index, string(code), strconv.Itoa(offset), date.Format("2006-01-02")+"."+ext)
}

// ObjectKey builds the object-store variant of the path scheme, with a Hive
// style date partition and a timestamped unique file name:
//
//	<prefix>/<kind>/<index>/<expiryCode>/<offset>/date=<date>/<ts>_<id>.parquet
func ObjectKey(prefix, kind, index string, code models.ExpiryCode, offset int, at time.Time, id string) string {
	name := fmt.Sprintf("%s_%s.parquet", at.UTC().Format("20060102150405"), id)
	key := filepath.Join(prefix, kind, index, string(code), strconv.Itoa(offset),
		"date="+at.Format("2006-01-02"), name)
	return filepath.ToSlash(key)
}

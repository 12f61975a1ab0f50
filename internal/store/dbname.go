package store

import (
	"path/filepath"
	"strings"
)

// MakeYesterdayDBName derives the rolled-over store path from the live
// "today" path: the extension, if any, is kept and ".yesterday" is
// inserted before it ("/var/lib/tlsrpt/collectd.sqlite3" becomes
// "/var/lib/tlsrpt/collectd.yesterday.sqlite3"); a path with no extension
// gets ".yesterday" appended.
func MakeYesterdayDBName(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + ".yesterday"
	}
	return strings.TrimSuffix(path, ext) + ".yesterday" + ext
}

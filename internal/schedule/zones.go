package schedule

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var zoneDirs = []string{
	"/usr/share/zoneinfo",
	"/usr/lib/zoneinfo",
	"/usr/share/lib/zoneinfo",
}

// ZoneNames lists the IANA zone names found in the system zoneinfo
// database, sorted. $ZONEINFO, when it names a directory, is searched
// first. It returns nil when no database is installed.
func ZoneNames() []string {
	dirs := zoneDirs
	if env := os.Getenv("ZONEINFO"); env != "" {
		dirs = append([]string{env}, dirs...)
	}
	for _, dir := range dirs {
		if names := zonesIn(dir); len(names) > 0 {
			return names
		}
	}
	return nil
}

func zonesIn(root string) []string {
	var names []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			if rel == "posix" || rel == "right" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isZoneName(rel) {
			return nil
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(names)
	return names
}

func isZoneName(rel string) bool {
	if rel == "" || strings.ContainsAny(rel, ".") {
		return false
	}
	first := rel[0]
	if first < 'A' || first > 'Z' {
		return false
	}
	switch rel {
	case "Factory", "SECURITY":
		return false
	}
	return true
}

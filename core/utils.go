package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// IsAllSentinel reports whether a filter value means "no filter".
// The browser client sends "all", "All Grades" or "All Sections" instead of omitting the param.
func IsAllSentinel(s string) bool {
	s = CleanString(s, true /* lower */)
	return s == "" || s == "all" || strings.HasPrefix(s, "all ")
}

// Getwd tries to find the project root (the directory holding go.mod).
// go-test changes the working directory to the test package being run during tests,
// so walk up until the module root is found.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			// deployed binary without sources
			return wd
		}
		currDir = newDir
	}
}

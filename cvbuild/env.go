// Package cvbuild builds OpenCV from source so the detection server has a
// native library to link against, and caches the result so repeat builds are
// skipped. Configuration is environment-variable driven.
package cvbuild

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const DefaultOpencvVersion = "4.6.0"

const (
	opencvRepo  = "https://github.com/opencv/opencv.git"
	contribRepo = "https://github.com/opencv/opencv_contrib.git"
)

// Env is the resolved build configuration.
type Env struct {
	Version          string
	Root             string
	ExtraFlags       []string
	DisableAutoBuild bool
	WithoutContrib   bool
	Cores            int

	// Manual install locations; when set they win over any auto build.
	IncludeDir string
	LibDir     string
	BinDir     string
}

// ReadEnv resolves the build configuration from the process environment.
func ReadEnv() Env {
	env := Env{
		Version:          os.Getenv("CVBUILD_OPENCV_VERSION"),
		Root:             os.Getenv("CVBUILD_ROOT"),
		ExtraFlags:       SplitFlags(os.Getenv("CVBUILD_FLAGS")),
		DisableAutoBuild: envBool("CVBUILD_DISABLE_AUTOBUILD"),
		WithoutContrib:   envBool("CVBUILD_WITHOUT_CONTRIB"),
		IncludeDir:       os.Getenv("OPENCV_INCLUDE_DIR"),
		LibDir:           os.Getenv("OPENCV_LIB_DIR"),
		BinDir:           os.Getenv("OPENCV_BIN_DIR"),
	}
	if env.Version == "" {
		env.Version = DefaultOpencvVersion
	}
	if env.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		env.Root = filepath.Join(home, ".cvbuild")
	}
	if n, err := strconv.Atoi(os.Getenv("CVBUILD_CORES")); err == nil && n > 0 {
		env.Cores = n
	} else {
		env.Cores = runtime.NumCPU()
	}
	return env
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// SplitFlags splits extra cmake flags on whitespace, keeping quoted tokens
// (single or double) intact so -DFOO="a b" survives.
func SplitFlags(s string) []string {
	var out []string
	var cur strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// FlagString is the canonical form stored in the cache for comparison.
func (e Env) FlagString() string { return strings.Join(e.ExtraFlags, " ") }

func (e Env) SourceDir() string  { return filepath.Join(e.Root, "opencv-"+e.Version) }
func (e Env) ContribDir() string { return filepath.Join(e.Root, "opencv_contrib-"+e.Version) }
func (e Env) BuildDir() string   { return filepath.Join(e.Root, "build") }
func (e Env) InstallDir() string { return filepath.Join(e.Root, "install") }
func (e Env) CacheFile() string  { return filepath.Join(e.Root, "auto-build.json") }

// HasManualInstall reports whether the user pointed at an existing OpenCV
// install instead of the auto build.
func (e Env) HasManualInstall() bool {
	return e.IncludeDir != "" && e.LibDir != ""
}

package cvbuild

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Module sets mirrored from the upstream build: base modules always built,
// contrib modules only when the contrib checkout is enabled.
var baseModules = []string{
	"core", "highgui", "imgcodecs", "imgproc", "features2d", "calib3d",
	"photo", "objdetect", "ml", "video", "videoio", "dnn", "flann",
}

var contribModules = []string{
	"face", "text", "tracking", "img_hash", "xfeatures2d",
}

// Modules returns the module names expected from a build under env.
func Modules(env Env) []string {
	if env.WithoutContrib {
		return baseModules
	}
	out := make([]string, 0, len(baseModules)+len(contribModules))
	out = append(out, baseModules...)
	out = append(out, contribModules...)
	return out
}

// ModuleEntry records where one built module library landed.
type ModuleEntry struct {
	Name    string `json:"name"`
	LibPath string `json:"lib_path"`
}

// Cache is the auto-build.json contents: the last successful build's version,
// flags, and module libraries. A mismatch on any of them forces a rebuild.
type Cache struct {
	OpencvVersion  string        `json:"opencv_version"`
	AutoBuildFlags string        `json:"auto_build_flags"`
	Modules        []ModuleEntry `json:"modules"`
}

// LoadCache reads the auto-build cache; a missing file is an error the caller
// treats as "no previous build".
func LoadCache(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &c, nil
}

// Save writes the cache. Only called after a fully successful build+install.
func (c *Cache) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IsUpToDate reports whether this cache satisfies env: same version, same
// extra flags, and every recorded library still on disk.
func (c *Cache) IsUpToDate(env Env) bool {
	if c.OpencvVersion != env.Version || c.AutoBuildFlags != env.FlagString() {
		return false
	}
	if len(c.Modules) == 0 {
		return false
	}
	for _, m := range c.Modules {
		info, err := os.Stat(m.LibPath)
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// findModuleLib locates the built library for one module under libDir.
func findModuleLib(libDir, name string) string {
	patterns := []string{"libopencv_" + name + ".*"}
	if runtime.GOOS == "windows" {
		patterns = []string{"opencv_" + name + "*.lib", "opencv_" + name + "*.dll"}
	}
	for _, pat := range patterns {
		matches, err := filepath.Glob(filepath.Join(libDir, pat))
		if err == nil && len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}

// collectModules enumerates the module libraries present after an install.
func collectModules(env Env) []ModuleEntry {
	libDir := filepath.Join(env.InstallDir(), "lib")
	var out []ModuleEntry
	for _, name := range Modules(env) {
		if p := findModuleLib(libDir, name); p != "" {
			out = append(out, ModuleEntry{Name: name, LibPath: p})
		}
	}
	return out
}

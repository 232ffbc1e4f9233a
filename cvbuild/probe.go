package cvbuild

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// ProbeResult says where a usable OpenCV install was found.
type ProbeResult struct {
	Source     string `json:"source"`
	IncludeDir string `json:"include_dir"`
	LibDir     string `json:"lib_dir"`
	BinDir     string `json:"bin_dir"`
}

// Probe looks for an OpenCV install in order: manual env dirs, pkg-config
// opencv4, then a valid auto-build cache.
func Probe(env Env) (ProbeResult, bool) {
	if env.HasManualInstall() {
		return ProbeResult{
			Source:     "env",
			IncludeDir: env.IncludeDir,
			LibDir:     env.LibDir,
			BinDir:     env.BinDir,
		}, true
	}
	if res, ok := probePkgConfig(); ok {
		return res, true
	}
	if cache, err := LoadCache(env.CacheFile()); err == nil && cache.IsUpToDate(env) {
		install := env.InstallDir()
		return ProbeResult{
			Source:     "auto-build",
			IncludeDir: filepath.Join(install, "include"),
			LibDir:     filepath.Join(install, "lib"),
			BinDir:     filepath.Join(install, "bin"),
		}, true
	}
	return ProbeResult{}, false
}

func probePkgConfig() (ProbeResult, bool) {
	if _, err := exec.LookPath("pkg-config"); err != nil {
		return ProbeResult{}, false
	}
	if err := exec.Command("pkg-config", "--exists", "opencv4").Run(); err != nil {
		return ProbeResult{}, false
	}
	res := ProbeResult{Source: "pkg-config"}
	if out, err := exec.Command("pkg-config", "--variable=includedir", "opencv4").Output(); err == nil {
		res.IncludeDir = strings.TrimSpace(string(out))
	}
	if out, err := exec.Command("pkg-config", "--variable=libdir", "opencv4").Output(); err == nil {
		res.LibDir = strings.TrimSpace(string(out))
	}
	return res, res.IncludeDir != "" || res.LibDir != ""
}

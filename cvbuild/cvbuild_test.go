package cvbuild

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSplitFlags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "-DWITH_TBB=ON", []string{"-DWITH_TBB=ON"}},
		{"multiple", "-DWITH_TBB=ON  -DWITH_FFMPEG=OFF", []string{"-DWITH_TBB=ON", "-DWITH_FFMPEG=OFF"}},
		{"double quoted", `-DEXTRA="a b" -DX=1`, []string{"-DEXTRA=a b", "-DX=1"}},
		{"single quoted", `-DEXTRA='a b'`, []string{"-DEXTRA=a b"}},
		{"tabs and newlines", "-DA=1\t-DB=2\n-DC=3", []string{"-DA=1", "-DB=2", "-DC=3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitFlags(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitFlags(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"CVBUILD_OPENCV_VERSION", "CVBUILD_ROOT", "CVBUILD_FLAGS",
		"CVBUILD_DISABLE_AUTOBUILD", "CVBUILD_WITHOUT_CONTRIB", "CVBUILD_CORES",
		"OPENCV_INCLUDE_DIR", "OPENCV_LIB_DIR", "OPENCV_BIN_DIR",
	} {
		t.Setenv(key, "")
	}
	env := ReadEnv()
	if env.Version != DefaultOpencvVersion {
		t.Errorf("default version = %q, want %q", env.Version, DefaultOpencvVersion)
	}
	if !strings.HasSuffix(env.Root, ".cvbuild") {
		t.Errorf("default root = %q, want ~/.cvbuild", env.Root)
	}
	if env.Cores < 1 {
		t.Errorf("cores = %d, want >= 1", env.Cores)
	}
	if env.DisableAutoBuild || env.WithoutContrib || env.HasManualInstall() {
		t.Error("boolean options should default off")
	}
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv("CVBUILD_OPENCV_VERSION", "4.8.1")
	t.Setenv("CVBUILD_ROOT", "/tmp/cv")
	t.Setenv("CVBUILD_FLAGS", "-DWITH_TBB=ON")
	t.Setenv("CVBUILD_DISABLE_AUTOBUILD", "true")
	t.Setenv("CVBUILD_WITHOUT_CONTRIB", "1")
	t.Setenv("CVBUILD_CORES", "3")
	t.Setenv("OPENCV_INCLUDE_DIR", "/usr/include/opencv4")
	t.Setenv("OPENCV_LIB_DIR", "/usr/lib")

	env := ReadEnv()
	if env.Version != "4.8.1" || env.Root != "/tmp/cv" || env.Cores != 3 {
		t.Errorf("unexpected env: %+v", env)
	}
	if !env.DisableAutoBuild || !env.WithoutContrib {
		t.Error("boolean envs not honored")
	}
	if !env.HasManualInstall() {
		t.Error("manual install dirs not detected")
	}
	if env.SourceDir() != filepath.Join("/tmp/cv", "opencv-4.8.1") {
		t.Errorf("source dir = %q", env.SourceDir())
	}
	if env.CacheFile() != filepath.Join("/tmp/cv", "auto-build.json") {
		t.Errorf("cache file = %q", env.CacheFile())
	}
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto-build.json")
	in := &Cache{
		OpencvVersion:  "4.6.0",
		AutoBuildFlags: "-DWITH_TBB=ON",
		Modules:        []ModuleEntry{{Name: "core", LibPath: "/x/libopencv_core.so"}},
	}
	if err := in.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := LoadCache(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch: %+v vs %+v", in, out)
	}
	if _, err := LoadCache(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("loading a missing cache should fail")
	}
}

func fakeLib(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("lib"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCacheIsUpToDate(t *testing.T) {
	dir := t.TempDir()
	core := fakeLib(t, dir, "libopencv_core.so")
	dnn := fakeLib(t, dir, "libopencv_dnn.so")

	env := Env{Version: "4.6.0", ExtraFlags: []string{"-DWITH_TBB=ON"}}
	cache := &Cache{
		OpencvVersion:  "4.6.0",
		AutoBuildFlags: "-DWITH_TBB=ON",
		Modules: []ModuleEntry{
			{Name: "core", LibPath: core},
			{Name: "dnn", LibPath: dnn},
		},
	}

	t.Run("match", func(t *testing.T) {
		if !cache.IsUpToDate(env) {
			t.Error("expected up to date")
		}
	})
	t.Run("version mismatch", func(t *testing.T) {
		e := env
		e.Version = "4.8.0"
		if cache.IsUpToDate(e) {
			t.Error("version change must invalidate")
		}
	})
	t.Run("flags mismatch", func(t *testing.T) {
		e := env
		e.ExtraFlags = nil
		if cache.IsUpToDate(e) {
			t.Error("flag change must invalidate")
		}
	})
	t.Run("no modules", func(t *testing.T) {
		empty := &Cache{OpencvVersion: "4.6.0", AutoBuildFlags: "-DWITH_TBB=ON"}
		if empty.IsUpToDate(env) {
			t.Error("empty module list must invalidate")
		}
	})
	t.Run("missing lib", func(t *testing.T) {
		if err := os.Remove(dnn); err != nil {
			t.Fatal(err)
		}
		if cache.IsUpToDate(env) {
			t.Error("missing lib must invalidate")
		}
	})
}

func TestCmakeArgs(t *testing.T) {
	env := Env{Version: "4.6.0", Root: "/tmp/cv", ExtraFlags: []string{"-DWITH_TBB=ON"}}
	args := NewBuilder(env).CmakeArgs()

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-S /tmp/cv/opencv-4.6.0",
		"-B /tmp/cv/build",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=/tmp/cv/install",
		"-DOPENCV_EXTRA_MODULES_PATH=/tmp/cv/opencv_contrib-4.6.0/modules",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("cmake args missing %q in %q", want, joined)
		}
	}
	if args[len(args)-1] != "-DWITH_TBB=ON" {
		t.Errorf("extra flags must come last, got %v", args)
	}

	env.WithoutContrib = true
	if strings.Contains(strings.Join(NewBuilder(env).CmakeArgs(), " "), "EXTRA_MODULES_PATH") {
		t.Error("contrib path present despite CVBUILD_WITHOUT_CONTRIB")
	}
}

func TestModules(t *testing.T) {
	with := Modules(Env{})
	without := Modules(Env{WithoutContrib: true})
	if len(with) <= len(without) {
		t.Errorf("contrib should add modules: %d vs %d", len(with), len(without))
	}
	for _, m := range without {
		if m == "face" || m == "xfeatures2d" {
			t.Errorf("contrib module %q in base set", m)
		}
	}
}

func TestProbeManualInstall(t *testing.T) {
	env := Env{IncludeDir: "/opt/opencv/include", LibDir: "/opt/opencv/lib", BinDir: "/opt/opencv/bin"}
	res, ok := Probe(env)
	if !ok || res.Source != "env" {
		t.Fatalf("probe = %+v ok=%v, want env source", res, ok)
	}
	if res.LibDir != "/opt/opencv/lib" {
		t.Errorf("lib dir = %q", res.LibDir)
	}
}

func TestCollectModules(t *testing.T) {
	root := t.TempDir()
	env := Env{Version: "4.6.0", Root: root, WithoutContrib: true}
	libDir := filepath.Join(env.InstallDir(), "lib")
	if err := os.MkdirAll(libDir, 0755); err != nil {
		t.Fatal(err)
	}
	fakeLib(t, libDir, "libopencv_core.so.406")
	fakeLib(t, libDir, "libopencv_imgproc.so.406")

	got := collectModules(env)
	if len(got) != 2 {
		t.Fatalf("collected %d modules, want 2: %+v", len(got), got)
	}
	names := []string{got[0].Name, got[1].Name}
	if !reflect.DeepEqual(names, []string{"core", "imgproc"}) {
		t.Errorf("module names = %v", names)
	}
}

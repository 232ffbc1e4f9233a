package cvbuild

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Builder runs the clone/configure/compile/install pipeline for one Env.
type Builder struct {
	Env Env
}

func NewBuilder(env Env) *Builder { return &Builder{Env: env} }

// Build compiles and installs OpenCV under Env.Root. A valid cache skips the
// whole pipeline unless force is set. The cache is written only after every
// step succeeded.
func (b *Builder) Build(ctx context.Context, force bool) error {
	env := b.Env
	if env.DisableAutoBuild {
		if res, ok := Probe(env); ok {
			fmt.Printf("Auto build disabled; using OpenCV from %s (include=%s lib=%s)\n",
				res.Source, res.IncludeDir, res.LibDir)
			return nil
		}
		return fmt.Errorf("auto build disabled (CVBUILD_DISABLE_AUTOBUILD) and no OpenCV install found")
	}

	if !force {
		if cache, err := LoadCache(env.CacheFile()); err == nil && cache.IsUpToDate(env) {
			fmt.Printf("OpenCV %s already built (%d modules); skipping. Use --force to rebuild.\n",
				env.Version, len(cache.Modules))
			return nil
		}
	}

	if err := os.MkdirAll(env.Root, 0755); err != nil {
		return fmt.Errorf("create build root %s: %w", env.Root, err)
	}

	fmt.Printf("Building OpenCV %s under %s (cores=%d contrib=%v)\n",
		env.Version, env.Root, env.Cores, !env.WithoutContrib)

	if err := b.cloneSources(ctx); err != nil {
		return err
	}
	if err := b.runCommand(ctx, env.Root, "cmake", b.CmakeArgs()...); err != nil {
		return err
	}
	if err := b.compile(ctx); err != nil {
		return err
	}
	if err := b.install(ctx); err != nil {
		return err
	}

	modules := collectModules(env)
	if len(modules) == 0 {
		return fmt.Errorf("install finished but no module libraries found under %s",
			filepath.Join(env.InstallDir(), "lib"))
	}
	cache := &Cache{
		OpencvVersion:  env.Version,
		AutoBuildFlags: env.FlagString(),
		Modules:        modules,
	}
	if err := cache.Save(env.CacheFile()); err != nil {
		return fmt.Errorf("write build cache: %w", err)
	}
	fmt.Printf("OpenCV %s built: %d modules recorded in %s\n",
		env.Version, len(modules), env.CacheFile())
	return nil
}

func (b *Builder) cloneSources(ctx context.Context) error {
	env := b.Env
	if !dirExists(env.SourceDir()) {
		err := b.runCommand(ctx, env.Root, "git",
			"clone", "--depth", "1", "--branch", env.Version, opencvRepo, env.SourceDir())
		if err != nil {
			return err
		}
	} else {
		fmt.Printf("Source checkout exists: %s\n", env.SourceDir())
	}
	if env.WithoutContrib {
		return nil
	}
	if !dirExists(env.ContribDir()) {
		return b.runCommand(ctx, env.Root, "git",
			"clone", "--depth", "1", "--branch", env.Version, contribRepo, env.ContribDir())
	}
	fmt.Printf("Contrib checkout exists: %s\n", env.ContribDir())
	return nil
}

// CmakeArgs returns the full configure argv: fixed base flags, the contrib
// modules path unless disabled, then any user extra flags.
func (b *Builder) CmakeArgs() []string {
	env := b.Env
	args := []string{
		"-S", env.SourceDir(),
		"-B", env.BuildDir(),
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=" + env.InstallDir(),
		"-DBUILD_EXAMPLES=OFF",
		"-DBUILD_DOCS=OFF",
		"-DBUILD_TESTS=OFF",
		"-DBUILD_PERF_TESTS=OFF",
		"-DBUILD_JAVA=OFF",
		"-DBUILD_opencv_apps=OFF",
		"-DBUILD_opencv_python3=OFF",
		"-DOPENCV_ENABLE_NONFREE=ON",
		"-DOPENCV_GENERATE_PKGCONFIG=ON",
	}
	if !env.WithoutContrib {
		args = append(args, "-DOPENCV_EXTRA_MODULES_PATH="+filepath.Join(env.ContribDir(), "modules"))
	}
	return append(args, env.ExtraFlags...)
}

func (b *Builder) compile(ctx context.Context) error {
	env := b.Env
	if runtime.GOOS == "windows" {
		return b.runCommand(ctx, env.BuildDir(), "msbuild",
			"ALL_BUILD.vcxproj", "/p:Configuration=Release", fmt.Sprintf("/maxcpucount:%d", env.Cores))
	}
	return b.runCommand(ctx, env.BuildDir(), "make", fmt.Sprintf("-j%d", env.Cores))
}

func (b *Builder) install(ctx context.Context) error {
	env := b.Env
	if runtime.GOOS == "windows" {
		return b.runCommand(ctx, env.BuildDir(), "msbuild",
			"INSTALL.vcxproj", "/p:Configuration=Release")
	}
	return b.runCommand(ctx, env.BuildDir(), "make", "install")
}

// Clean removes everything the builder created under Env.Root.
func (b *Builder) Clean() error {
	env := b.Env
	targets := []string{
		env.BuildDir(), env.InstallDir(), env.SourceDir(), env.ContribDir(), env.CacheFile(),
	}
	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil {
			return fmt.Errorf("remove %s: %w", t, err)
		}
		fmt.Printf("Removed: %s\n", t)
	}
	return nil
}

// runCommand streams the subcommand's output and wraps failures with the
// argv, so a broken step is obvious from the error alone.
func (b *Builder) runCommand(ctx context.Context, dir, name string, args ...string) error {
	fmt.Printf("Running: %s %s\n", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

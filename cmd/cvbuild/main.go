package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"DetStreamServer/cvbuild"
)

const usage = `cvbuild - build OpenCV from source for the detection server

Usage:
  cvbuild build [--force]   clone, configure, compile and install OpenCV
  cvbuild status            show cache state and where OpenCV was found
  cvbuild flags             print the resolved cmake argv
  cvbuild clean             remove sources, build tree, install and cache

Configuration via environment:
  CVBUILD_OPENCV_VERSION    version tag to build (default ` + cvbuild.DefaultOpencvVersion + `)
  CVBUILD_ROOT              work directory (default ~/.cvbuild)
  CVBUILD_FLAGS             extra cmake flags (whitespace split, quotes kept)
  CVBUILD_CORES             parallel compile jobs (default all cores)
  CVBUILD_WITHOUT_CONTRIB   skip the contrib modules checkout
  CVBUILD_DISABLE_AUTOBUILD never build; only report an existing install
  OPENCV_INCLUDE_DIR/OPENCV_LIB_DIR/OPENCV_BIN_DIR
                            point at a manual install instead of building
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	env := cvbuild.ReadEnv()
	builder := cvbuild.NewBuilder(env)

	switch os.Args[1] {
	case "build":
		fs := flag.NewFlagSet("build", flag.ExitOnError)
		force := fs.Bool("force", false, "rebuild even when the cache is valid")
		_ = fs.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := builder.Build(ctx, *force); err != nil {
			fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
			os.Exit(1)
		}
	case "status":
		printStatus(env)
	case "flags":
		for _, a := range builder.CmakeArgs() {
			fmt.Println(a)
		}
	case "clean":
		if err := builder.Clean(); err != nil {
			fmt.Fprintf(os.Stderr, "clean failed: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func printStatus(env cvbuild.Env) {
	fmt.Printf("OpenCV version: %s\n", env.Version)
	fmt.Printf("Build root:     %s\n", env.Root)
	fmt.Printf("Extra flags:    %q\n", env.FlagString())
	fmt.Printf("Contrib:        %v\n", !env.WithoutContrib)

	cache, err := cvbuild.LoadCache(env.CacheFile())
	switch {
	case err != nil:
		fmt.Printf("Cache:          none (%s)\n", env.CacheFile())
	case cache.IsUpToDate(env):
		fmt.Printf("Cache:          up to date, %d modules\n", len(cache.Modules))
		for _, m := range cache.Modules {
			fmt.Printf("  %-14s %s\n", m.Name, m.LibPath)
		}
	default:
		fmt.Printf("Cache:          stale (built %s, flags %q)\n",
			cache.OpencvVersion, cache.AutoBuildFlags)
	}

	if res, ok := cvbuild.Probe(env); ok {
		fmt.Printf("Install found:  %s (include=%s lib=%s)\n", res.Source, res.IncludeDir, res.LibDir)
	} else {
		fmt.Println("Install found:  none; run `cvbuild build`")
	}
}

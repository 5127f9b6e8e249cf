package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"runbox/internal/cli/config"
	"runbox/internal/cli/repl"
	"runbox/internal/remote"
	"runbox/internal/remote/profile"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/shlex"
)

const defaultConfigPath = "configs/cli.yaml"

// Exit codes follow shell conventions: one-shot runs exit with the
// program's own code, 124 on timeout, 130 when interrupted.
const (
	exitUsage    = 2
	exitCanceled = 130
)

func main() {
	code := run()
	_ = logger.Sync()
	os.Exit(code)
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override service base URL")
	language := flag.String("lang", "", "Override language id")
	timeout := flag.Duration("timeout", 0, "Override run timeout (e.g. 10s)")
	argList := flag.String("args", "", "Program arguments, shell quoting applies")
	cflagList := flag.String("cflags", "", "Compiler flags, shell quoting applies")
	stdinPath := flag.String("stdin", "", "Read program stdin from this file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *argList != "" {
		if cfg.Args, err = shlex.Split(*argList); err != nil {
			fmt.Fprintf(os.Stderr, "parse -args failed: %v\n", err)
			return exitUsage
		}
	}
	if *cflagList != "" {
		if cfg.CFlags, err = shlex.Split(*cflagList); err != nil {
			fmt.Fprintf(os.Stderr, "parse -cflags failed: %v\n", err)
			return exitUsage
		}
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}

	client, err := remote.New(remote.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init client failed: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch flag.Arg(0) {
	case "":
		opts := repl.Options{
			Language: cfg.Language,
			Args:     cfg.Args,
			CFlags:   cfg.CFlags,
			Timeout:  cfg.Timeout,
		}
		if *language != "" {
			opts.Language = profile.Normalize(*language)
		}
		if err := repl.New(client, opts).Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "repl failed: %v\n", err)
			return 1
		}
		return 0
	case "langs":
		for _, id := range profile.Supported() {
			fmt.Println(id)
		}
		return 0
	case "run":
		return oneShot(ctx, client, cfg, *language, *stdinPath, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected \"run\", \"langs\", or no argument for the REPL)\n", flag.Arg(0))
		return exitUsage
	}
}

// oneShot executes a single source file and exits with the program's
// own exit code, so the tool composes in shell pipelines.
func oneShot(ctx context.Context, client *remote.Client, cfg config.Config, explicitLang, stdinPath string, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: runbox run <file>")
		return exitUsage
	}
	srcPath := args[0]
	code, err := os.ReadFile(srcPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read source failed: %v\n", err)
		return 1
	}

	// -lang beats the file extension, the extension beats the config.
	language := cfg.Language
	if inferred, ok := profile.FromExtension(srcPath); ok {
		language = inferred
	}
	if explicitLang != "" {
		language = profile.Normalize(explicitLang)
	}

	var stdin string
	if stdinPath != "" {
		data, err := os.ReadFile(stdinPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read stdin file failed: %v\n", err)
			return 1
		}
		stdin = string(data)
	}

	res, err := client.Run(ctx, remote.RunRequest{
		Language:      language,
		Code:          string(code),
		Stdin:         stdin,
		Args:          cfg.Args,
		CompilerFlags: cfg.CFlags,
		Timeout:       cfg.Timeout,
	})
	if err != nil {
		if appErr.Is(err, appErr.Canceled) {
			fmt.Fprintln(os.Stderr, "canceled")
			return exitCanceled
		}
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return 1
	}

	// Program output goes to stdout untouched; diagnostics stay on
	// stderr so piping the output remains clean.
	if res.Output != "" {
		fmt.Print(res.Output)
	}
	if res.TimedOut {
		fmt.Fprintf(os.Stderr, "timed out after %.1fs\n", res.RealTime)
	} else {
		fmt.Fprintf(os.Stderr, "exit %d | real %.2fs user %.2fs sys %.2fs | cpu %.1f%%\n",
			res.ExitCode, res.RealTime, res.UserTime, res.SysTime, res.CPUShare)
	}
	return res.ExitCode
}

// loadConfig tolerates a missing file at the default path so the tool
// works out of the box; an explicitly named file must exist.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

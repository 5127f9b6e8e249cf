package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"runbox/internal/remote"
	"runbox/internal/remote/profile"
	"runbox/internal/remote/result"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// Runner is the execution surface the REPL drives.
type Runner interface {
	Run(ctx context.Context, req remote.RunRequest) (result.RunResult, error)
	CancelAll() int
	Active() int
}

// Options seeds the session with the CLI configuration.
type Options struct {
	Language string
	Args     []string
	CFlags   []string
	Timeout  time.Duration
}

// Session holds interactive state between commands. Runs execute
// asynchronously so cancel and Ctrl-C work against in-flight executions.
type Session struct {
	client Runner

	mu       sync.Mutex
	language string
	args     []string
	cflags   []string
	stdinSrc string
	timeout  time.Duration
	seq      int

	wg    sync.WaitGroup
	outMu sync.Mutex
	out   io.Writer
}

// New creates a REPL session.
func New(client Runner, opts Options) *Session {
	return &Session{
		client:   client,
		language: opts.Language,
		args:     opts.Args,
		cflags:   opts.CFlags,
		timeout:  opts.Timeout,
		out:      os.Stdout,
	}
}

// Run drives the prompt until exit or EOF.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "runbox> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    s.completer(),
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			// First ^C aborts in-flight runs, a second one leaves.
			if n := s.client.CancelAll(); n > 0 {
				s.printLine("signalled %d run(s)", n)
				continue
			}
			break
		}
		if err == io.EOF {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if quit := s.dispatch(ctx, line); quit {
			break
		}
	}

	if n := s.client.CancelAll(); n > 0 {
		s.printLine("signalled %d run(s)", n)
	}
	s.wg.Wait()
	return nil
}

// dispatch executes one command line and reports whether to quit.
func (s *Session) dispatch(ctx context.Context, line string) bool {
	tokens, err := shlex.Split(line)
	if err != nil {
		s.printLine("parse command failed: %v", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}

	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true
	case "help":
		s.printHelp()
	case "run":
		s.handleRun(ctx, tokens[1:])
	case "lang":
		s.handleLang(tokens[1:])
	case "args":
		s.setVector(&s.args, "args", tokens[1:])
	case "cflags":
		s.setVector(&s.cflags, "cflags", tokens[1:])
	case "stdin":
		s.handleStdin(tokens[1:])
	case "timeout":
		s.handleTimeout(tokens[1:])
	case "langs":
		s.printLine("%s", strings.Join(profile.Supported(), " "))
	case "show":
		s.handleShow()
	case "cancel":
		s.printLine("signalled %d run(s)", s.client.CancelAll())
	default:
		s.printLine("unknown command: %s (try help)", tokens[0])
	}
	return false
}

func (s *Session) handleRun(ctx context.Context, args []string) {
	if len(args) == 0 {
		s.printLine("usage: run <file> [language]")
		return
	}
	path := args[0]
	code, err := os.ReadFile(path)
	if err != nil {
		s.printLine("read source failed: %v", err)
		return
	}

	s.mu.Lock()
	language := s.language
	runArgs := append([]string(nil), s.args...)
	cflags := append([]string(nil), s.cflags...)
	stdinSrc := s.stdinSrc
	timeout := s.timeout
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	// Explicit argument first, then the file extension, then the
	// session language.
	if len(args) > 1 {
		language = args[1]
	} else if inferred, ok := profile.FromExtension(path); ok {
		language = inferred
	}

	var stdin string
	if stdinSrc != "" {
		data, err := os.ReadFile(stdinSrc)
		if err != nil {
			s.printLine("read stdin file failed: %v", err)
			return
		}
		stdin = string(data)
	}

	name := filepath.Base(path)
	s.printLine("[#%d %s] started (%s)", seq, name, language)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.client.Run(ctx, remote.RunRequest{
			Language:      language,
			Code:          string(code),
			Stdin:         stdin,
			Args:          runArgs,
			CompilerFlags: cflags,
			Timeout:       timeout,
		})
		if err != nil {
			s.printLine("[#%d %s] error: %v", seq, name, err)
			return
		}
		s.printResult(seq, name, res)
	}()
}

func (s *Session) handleLang(args []string) {
	if len(args) == 0 {
		s.mu.Lock()
		current := s.language
		s.mu.Unlock()
		s.printLine("language: %s", current)
		return
	}
	id := profile.Normalize(args[0])
	if _, err := profile.Token(id); err != nil {
		s.printLine("unsupported language %q (try langs)", args[0])
		return
	}
	s.mu.Lock()
	s.language = id
	s.mu.Unlock()
	s.printLine("language set to %s", id)
}

func (s *Session) setVector(target *[]string, name string, values []string) {
	s.mu.Lock()
	*target = append([]string(nil), values...)
	s.mu.Unlock()
	if len(values) == 0 {
		s.printLine("%s cleared", name)
		return
	}
	s.printLine("%s set (%d)", name, len(values))
}

func (s *Session) handleStdin(args []string) {
	if len(args) == 0 {
		s.printLine("usage: stdin <file> (stdin - to clear)")
		return
	}
	if args[0] == "-" {
		s.mu.Lock()
		s.stdinSrc = ""
		s.mu.Unlock()
		s.printLine("stdin cleared")
		return
	}
	if _, err := os.Stat(args[0]); err != nil {
		s.printLine("stdin file: %v", err)
		return
	}
	s.mu.Lock()
	s.stdinSrc = args[0]
	s.mu.Unlock()
	s.printLine("stdin set to %s", args[0])
}

func (s *Session) handleTimeout(args []string) {
	if len(args) == 0 {
		s.printLine("usage: timeout <duration> (e.g. 5s)")
		return
	}
	dur, err := time.ParseDuration(args[0])
	if err != nil || dur <= 0 {
		s.printLine("invalid duration: %s", args[0])
		return
	}
	s.mu.Lock()
	s.timeout = dur
	s.mu.Unlock()
	s.printLine("timeout set to %s", dur)
}

func (s *Session) handleShow() {
	s.mu.Lock()
	language := s.language
	args := strings.Join(s.args, " ")
	cflags := strings.Join(s.cflags, " ")
	stdinSrc := s.stdinSrc
	timeout := s.timeout
	s.mu.Unlock()

	if args == "" {
		args = "<none>"
	}
	if cflags == "" {
		cflags = "<none>"
	}
	if stdinSrc == "" {
		stdinSrc = "<none>"
	}

	s.printLine("language: %s", language)
	s.printLine("timeout:  %s", timeout)
	s.printLine("args:     %s", args)
	s.printLine("cflags:   %s", cflags)
	s.printLine("stdin:    %s", stdinSrc)
	s.printLine("active:   %d run(s)", s.client.Active())
}

func (s *Session) printResult(seq int, name string, res result.RunResult) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if res.TimedOut {
		_, _ = fmt.Fprintf(s.out, "[#%d %s] timed out after %.1fs (exit %d)\n",
			seq, name, res.RealTime, res.ExitCode)
		return
	}

	output := res.Output
	if output != "" && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	if output != "" {
		_, _ = io.WriteString(s.out, output)
	}
	_, _ = fmt.Fprintf(s.out, "[#%d %s] exit %d | real %.2fs user %.2fs sys %.2fs | cpu %.1f%%\n",
		seq, name, res.ExitCode, res.RealTime, res.UserTime, res.SysTime, res.CPUShare)
}

func (s *Session) completer() *readline.PrefixCompleter {
	languages := readline.PcItemDynamic(func(string) []string {
		return profile.Supported()
	})
	return readline.NewPrefixCompleter(
		readline.PcItem("run", readline.PcItemDynamic(listSourceFiles)),
		readline.PcItem("lang", languages),
		readline.PcItem("args"),
		readline.PcItem("cflags"),
		readline.PcItem("stdin"),
		readline.PcItem("timeout"),
		readline.PcItem("langs"),
		readline.PcItem("show"),
		readline.PcItem("cancel"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// listSourceFiles completes run arguments with source files from the
// working directory.
func listSourceFiles(string) []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := profile.FromExtension(entry.Name()); ok {
			files = append(files, entry.Name())
		}
	}
	return files
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".runbox_history")
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  run <file> [language]   execute a source file remotely")
	s.printLine("  lang [id]               show or set the session language")
	s.printLine("  args [v ...]            set program arguments (empty clears)")
	s.printLine("  cflags [v ...]          set compiler flags (empty clears)")
	s.printLine("  stdin <file>|-          feed a file as standard input")
	s.printLine("  timeout <duration>      set the run timeout, e.g. 5s")
	s.printLine("  langs                   list supported languages")
	s.printLine("  show                    show session settings")
	s.printLine("  cancel                  abort every in-flight run")
	s.printLine("  help | exit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

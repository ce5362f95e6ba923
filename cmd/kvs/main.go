package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/downfa11-org/go-kvs/pkg/config"
	"github.com/downfa11-org/go-kvs/pkg/controller"
	"github.com/downfa11-org/go-kvs/pkg/metrics"
	"github.com/downfa11-org/go-kvs/pkg/store"
	"github.com/downfa11-org/go-kvs/util"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `Usage: kvs <command> [flags]

Commands:
  get --key KEY              print the value of KEY
  set --key KEY --value VAL  store VAL under KEY
  rm --key KEY               remove KEY
  stats                      print store sizes and metrics
  shell                      read commands from stdin
  version                    print the version

Run 'kvs <command> -h' for the flags of a command.
`

// counter is a repeatable boolean flag: -d -d counts 2.
type counter int

func (c *counter) String() string   { return strconv.Itoa(int(*c)) }
func (c *counter) Set(string) error { *c++; return nil }
func (c *counter) IsBoolFlag() bool { return true }

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "version", "--version", "-V":
		fmt.Fprintf(stdout, "kvs %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return exitOK
	case "get", "set", "rm", "stats", "shell":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}

	fs := flag.NewFlagSet("kvs "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	var debug counter
	fs.Var(&debug, "d", "Enable debug logging (repeatable)")
	fs.Var(&debug, "debug", "Enable debug logging (repeatable)")
	key := fs.String("key", "", "Key to operate on")
	value := fs.String("value", "", "Value to store")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	// positional form: kvs set KEY VALUE
	pos := fs.Args()
	if *key == "" && len(pos) > 0 {
		*key, pos = pos[0], pos[1:]
	}
	valueGiven := isSet(fs, "value")
	if cmd == "set" && !valueGiven && len(pos) > 0 {
		*value, pos = pos[0], pos[1:]
		valueGiven = true
	}
	if len(pos) > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(pos, " "))
		return exitUsage
	}
	switch cmd {
	case "get", "rm":
		if *key == "" {
			fmt.Fprintf(stderr, "kvs %s: --key is required\n", cmd)
			return exitUsage
		}
	case "set":
		if *key == "" || !valueGiven {
			fmt.Fprintln(stderr, "kvs set: --key and --value are required")
			return exitUsage
		}
	}

	cfg, err := flags.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	if debug > 0 {
		cfg.LogLevel = util.LogLevelDebug
	}
	util.SetOutput(stderr)
	util.SetLevel(cfg.LogLevel)
	util.Debug("config: dir=%s segment_size=%d compression=%s min_compact_bytes=%d ratio=%.2f",
		cfg.Dir, cfg.SegmentSize, cfg.CompressionType, cfg.MinCompactBytes, cfg.MinCleanableDirtyRatio)

	s, err := store.OpenWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() {
		if err := s.Close(); err != nil {
			util.Error("close store: %v", err)
		}
	}()

	switch cmd {
	case "get":
		v, ok, err := s.Get(*key)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		if !ok {
			fmt.Fprintln(stdout, "Key not found")
			return exitOK
		}
		fmt.Fprintln(stdout, v)

	case "set":
		if err := s.Set(*key, *value); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		fmt.Fprintf(stdout, "Value '%s' set for key '%s'\n", *value, *key)

	case "rm":
		if err := s.Remove(*key); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				fmt.Fprintln(stderr, "Key not found")
			} else {
				fmt.Fprintf(stderr, "Error: %v\n", err)
			}
			return exitError
		}
		fmt.Fprintf(stdout, "Remove command executed for key '%s'\n", *key)

	case "stats":
		st, err := s.Stats()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		fmt.Fprintln(stdout, controller.FormatStats(st))
		fmt.Fprintln(stdout)
		if err := metrics.Write(stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}

	case "shell":
		ch := controller.NewCommandHandler(s)
		fmt.Fprintf(stdout, "kvs %s on %s. Type HELP for commands.\n", version, cfg.Dir)
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 64*1024), 16<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.EqualFold(strings.TrimSpace(line), "EXIT") {
				break
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			fmt.Fprintln(stdout, ch.HandleCommand(line))
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	}
	return exitOK
}

func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

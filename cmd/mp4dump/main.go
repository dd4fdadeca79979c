// Command mp4dump reads an MP4 file and prints its box structure or its
// tracks and samples.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	"github.com/sunfish-shogi/bufseekio"
	mp4 "github.com/tetsuo/atomparse"
	"github.com/tetsuo/atomparse/track"
)

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatYAML
)

func parseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("unknown format: %s", s)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

func main() {
	os.Exit(run())
}

func run() int {
	formatFlag := flag.String("format", "text", "output format: text (default), json, yaml")
	configFlag := flag.String("config", "", "YAML file with parser limits")
	tracksFlag := flag.Bool("tracks", false, "print tracks instead of the box tree")
	samplesFlag := flag.Bool("samples", false, "print every sample (implies -tracks)")
	levelFlag := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	verifyFlag := flag.Bool("verify", false, "cross-check sample tables against github.com/abema/go-mp4")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.mp4>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return 1
	}

	format, err := parseFormat(*formatFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	level, err := parseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *levelFlag, err)
		return 1
	}
	logger := slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		Level:      level,
		TimeFormat: "15:04:05.000",
	}))

	cfg := track.DefaultConfig()
	if *configFlag != "" {
		data, err := os.ReadFile(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
			return 1
		}
		if cfg, err = track.LoadConfig(data); err != nil {
			fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
			return 1
		}
	}
	cfg.Logger = logger

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening file: %v\n", err)
		return 1
	}
	defer f.Close()

	r := bufseekio.NewReadSeeker(f, 128*1024, 4)
	src := mp4.NewReaderSource(r)

	if !*tracksFlag && !*samplesFlag && !*verifyFlag {
		root, err := scanTree(src, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scan error: %v\n", err)
			return 1
		}
		if err := printTree(os.Stdout, root, format); err != nil {
			fmt.Fprintf(os.Stderr, "error writing output: %v\n", err)
			return 1
		}
		return 0
	}

	movie, err := track.ParseMovie(src, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		return 1
	}

	code := 0
	if *verifyFlag {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			fmt.Fprintf(os.Stderr, "error rewinding file: %v\n", err)
			return 1
		}
		if n := verify(r, movie, logger); n > 0 {
			code = 2
		}
	}
	if *tracksFlag || *samplesFlag {
		if err := printMovie(os.Stdout, movie, format, *samplesFlag); err != nil {
			fmt.Fprintf(os.Stderr, "error writing output: %v\n", err)
			return 1
		}
	}
	return code
}

package previewd

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/previewd/previewd/pkg/rlog"
)

type Config struct {
	BuildInfo BuildInfo

	ServerPort int
	Dir        string

	SettingsFile string

	// FetchConcurrency caps the number of simultaneous remote fetches across
	// all protocols.
	FetchConcurrency int

	ExtractWorkersCount int
	ExtractTimeout      time.Duration
	ThumbnailMaxSize    int

	// ThumbnailsMaxAge and ThumbnailsMaxTotalSize bound the on-disk thumbnail
	// cache. Zero values disable the background cleaner and the cache grows
	// without limit.
	ThumbnailsMaxAge       time.Duration
	ThumbnailsMaxTotalSize MiB

	// Debug options

	LogLevel rlog.Level
}

type BuildInfo struct {
	ShortGitHash string
	CommitTime   string
}

func checkEnum[T comparable](v T, validValues ...T) error {
	if !slices.Contains(validValues, v) {
		return fmt.Errorf("valid values: %v", validValues)
	}
	return nil
}

type MiB int

func (mb MiB) Bytes() int64 {
	return int64(mb) << 20
}

func (mb MiB) String() string {
	text, _ := mb.MarshalText()
	return string(text)
}

func (mb MiB) MarshalText() (text []byte, err error) {
	if mb >= 1024 && mb%1024 == 0 {
		return []byte(strconv.Itoa(int(mb/1024)) + "Gi"), nil
	}
	return []byte(strconv.Itoa(int(mb)) + "Mi"), nil
}

func (mb *MiB) UnmarshalText(data []byte) error {
	text := string(data)

	mul := 1
	switch {
	case strings.HasSuffix(text, "Mi"):
	case strings.HasSuffix(text, "Gi"):
		mul = 1024
	default:
		return fmt.Errorf("valid suffixes: Mi, Gi")
	}

	n, err := strconv.Atoi(text[:len(text)-2])
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	*mb = MiB(n * mul)
	return nil
}

type flagParams struct {
	// p is a pointer to a value.
	p            any
	defaultValue any
	desc         string
}

func (cfg *Config) getFlagParams() map[string]flagParams {
	return map[string]flagParams{
		"port": {
			p: &cfg.ServerPort, defaultValue: 8080, desc: "Server port",
		},
		"dir": {
			p: &cfg.Dir, defaultValue: "./var", desc: "Directory for app data (thumbnails and etc.)",
		},
		"settings-file": {
			p: &cfg.SettingsFile, defaultValue: "./settings.yml", desc: "" +
				"Path to the settings file with thumbnail toggles and\n" +
				"remote storage credentials. Edits are picked up on the fly",
		},
		//
		"fetch-concurrency": {
			p: &cfg.FetchConcurrency, defaultValue: 4, desc: "" +
				"Max number of simultaneous remote fetches. Keep it low:\n" +
				"file shares have few server-side session slots",
		},
		//
		"extract-workers-count": {
			p: &cfg.ExtractWorkersCount, defaultValue: runtime.NumCPU(), desc: "Number of workers for frame/page extraction",
		},
		"extract-timeout": {
			p: &cfg.ExtractTimeout, defaultValue: 10 * time.Second, desc: "Hard deadline for a single extraction",
		},
		"thumbnail-max-size": {
			p: &cfg.ThumbnailMaxSize, defaultValue: 512, desc: "Max thumbnail dimension, px",
		},
		//
		"thumbnails-max-age": {
			p: &cfg.ThumbnailsMaxAge, defaultValue: time.Duration(0), desc: "Max age of cached thumbnails, 0 - keep forever",
		},
		"thumbnails-max-total-size": {
			p: &cfg.ThumbnailsMaxTotalSize, defaultValue: MiB(0), desc: "Max total size of cached thumbnails, 0 - unbounded",
		},
		//
		"log-level": {
			p: &cfg.LogLevel, defaultValue: rlog.LevelInfo, desc: "Set the minimal log level. One of: debug, info, warn, error",
		},
	}
}

func ParseConfig() (Config, error) {
	cfg := Config{
		BuildInfo: readBuildInfo(),
	}

	var printVersion bool
	flag.BoolVar(&printVersion, "version", false, "Print version and exit")

	flags := cfg.getFlagParams()
	for name, params := range flags {
		switch p := params.p.(type) {
		case *bool:
			flag.BoolVar(p, name, params.defaultValue.(bool), params.desc)
		case *int:
			flag.IntVar(p, name, params.defaultValue.(int), params.desc)
		case *int64:
			flag.Int64Var(p, name, params.defaultValue.(int64), params.desc)
		case *string:
			flag.StringVar(p, name, params.defaultValue.(string), params.desc)
		case *time.Duration:
			flag.DurationVar(p, name, params.defaultValue.(time.Duration), params.desc)
		case encoding.TextUnmarshaler:
			flag.TextVar(p, name, params.defaultValue.(encoding.TextMarshaler), params.desc)
		default:
			return Config{}, fmt.Errorf("flag %q has unsupported type: %T", name, p)
		}
	}

	flag.Parse()

	if printVersion {
		cfg.BuildInfo.Print()
		os.Exit(0)
	}

	if cfg.ServerPort == 0 {
		return cfg, errors.New("server port must be > 0")
	}
	if cfg.Dir == "" {
		return cfg, errors.New("dir can't be empty")
	}
	if cfg.SettingsFile == "" {
		return cfg, errors.New("settings file can't be empty")
	}
	if cfg.FetchConcurrency <= 0 {
		return cfg, errors.New("fetch concurrency must be > 0")
	}
	if cfg.ExtractWorkersCount <= 0 {
		return cfg, errors.New("extract workers count must be > 0")
	}
	if cfg.ExtractTimeout <= 0 {
		return cfg, errors.New("extract timeout must be > 0")
	}

	return cfg, nil
}

func readBuildInfo() BuildInfo {
	res := BuildInfo{
		ShortGitHash: "unknown",
		CommitTime:   "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return res
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			res.ShortGitHash = s.Value
			if len(res.ShortGitHash) > 7 {
				res.ShortGitHash = res.ShortGitHash[:7]
			}

		case "vcs.time":
			t, err := time.Parse(time.RFC3339, s.Value)
			if err == nil {
				res.CommitTime = t.UTC().Format("2006-01-02 15:04:05 UTC")
			}
		}
	}
	return res
}

func (info BuildInfo) Print() {
	fmt.Fprintf(os.Stderr, `
                             _                   _
     _ __  _ __  ___ __   __(_) ___ __      __ _| |
    | '_ \| '__|/ _ \\ \ / /| |/ _ \\ \ /\ / // _`+"`"+` |
    | |_) | |  |  __/ \ V / | |  __/ \ V  V /| (_| |
    | .__/|_|   \___|  \_/  |_|\___|  \_/\_/  \__,_|
    |_|

    Commit Hash: %q
    Commit Time: %q

`,
		info.ShortGitHash,
		info.CommitTime,
	)
}

func (cfg Config) Print() {
	flags := cfg.getFlagParams()

	var (
		names         = make([]string, 0, len(flags))
		maxNameLength int
	)
	for name := range flags {
		if len(name) > maxNameLength {
			maxNameLength = len(name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprint(os.Stderr, "    Config:\n\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "        --%-*s = %v\n", maxNameLength, name, reflect.ValueOf(flags[name].p).Elem())
	}
	fmt.Fprint(os.Stderr, "\n")
}

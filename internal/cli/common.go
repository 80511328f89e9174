package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// Version information for the compiler driver
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-19"
)

// CommitSHA is set with -ldflags at release time.
var CommitSHA = "unknown"

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// PrintVersion prints version information in a consistent format
func PrintVersion(w io.Writer, toolName string, jsonOutput bool) {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err == nil {
			fmt.Fprintln(w, string(data))
			return
		}
		fmt.Fprintf(os.Stderr, "Error: Failed to marshal version info to JSON: %v\n", err)
	}

	fmt.Fprintf(w, "%s v%s\n", toolName, info.Version)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)
}

// Logger provides levelled logging for the driver. It is safe for use by
// concurrent compile jobs.
type Logger struct {
	Verbose   bool
	DebugMode bool

	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewLogger creates a logger writing to standard output.
func NewLogger(verbose, debug bool) *Logger {
	return NewLoggerTo(os.Stdout, verbose, debug)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, verbose, debug bool) *Logger {
	return &Logger{
		Verbose:   verbose,
		DebugMode: debug,
		out:       w,
		now:       time.Now,
	}
}

func (l *Logger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %s: %s\n", level, l.now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Verbose {
		l.log("INFO", format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.DebugMode {
		l.log("DEBUG", format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

// Config holds the driver defaults. Command-line flags override it.
type Config struct {
	Verbose     bool   `json:"verbose"`
	Debug       bool   `json:"debug"`
	Target      string `json:"target"`
	OutDir      string `json:"out_dir"`
	Jobs        int    `json:"jobs"`
	NoTimestamp bool   `json:"no_timestamp"`
	CacheDir    string `json:"cache_dir"`
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{
		OutDir: ".",
	}

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Default config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Jobs < 0 {
		return nil, fmt.Errorf("config file %s: jobs must not be negative", configPath)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ValidateArgs validates command line arguments
func ValidateArgs(args []string, minArgs int, usage string) error {
	if len(args) < minArgs {
		return fmt.Errorf("insufficient arguments\nUsage: %s", usage)
	}
	return nil
}

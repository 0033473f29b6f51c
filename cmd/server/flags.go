package main

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds the process flags. Flags explicitly set on the command line take
// precedence over the configuration file and environment.
type Flags struct {
	ConfigFile     string
	Host           string
	Port           int
	LogLevel       string
	LogFormat      string
	MetricsPort    int
	StorageBackend string
	TLSCert        string
	TLSKey         string
	Version        bool

	set map[string]bool
}

func ParseFlags() *Flags {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) *Flags {
	flags := &Flags{set: make(map[string]bool)}

	fs.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	fs.StringVar(&flags.Host, "host", "", "Server host")
	fs.IntVar(&flags.Port, "port", 0, "Server port")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&flags.LogFormat, "log-format", "", "Log format (json, text)")
	fs.IntVar(&flags.MetricsPort, "metrics-port", 0, "Prometheus metrics port")
	fs.StringVar(&flags.StorageBackend, "storage", "", "Storage backend (memory, file, redis, s3, postgres)")
	fs.StringVar(&flags.TLSCert, "tls-cert", "", "Path to TLS certificate")
	fs.StringVar(&flags.TLSKey, "tls-key", "", "Path to TLS key")
	fs.BoolVar(&flags.Version, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n", fs.Name())
		fmt.Fprintf(fs.Output(), "\nMWEM differentially private range-query release server\n\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(args)

	fs.Visit(func(f *flag.Flag) {
		flags.set[f.Name] = true
	})

	return flags
}

// IsSet reports whether the named flag was given on the command line
func (f *Flags) IsSet(name string) bool {
	return f.set[name]
}

// teamly runs one bot session against the Teamly gateway: it keeps the
// in-memory mirror of the bot's teams current, archives observed messages,
// and serves health and metrics endpoints.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/spf13/pflag"

	"teamly/cmd/internal/app"
)

// Set via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	var (
		o           app.Overrides
		showVersion bool
	)

	fs := pflag.NewFlagSet("teamly", pflag.ContinueOnError)
	fs.StringVar(&o.ConfigPath, "config", "", "path to a YAML config file (default: $TEAMLY_CONFIG)")
	fs.StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&o.LogFormat, "log-format", "", "log format: json, text, pretty")
	fs.StringVar(&o.OpsAddr, "ops-addr", "", "listen address for /healthz, /readyz and /metrics")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if showVersion {
		fmt.Printf("teamly %s (%s)\n  Go: %s\n  Platform: %s/%s\n",
			version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	}

	return app.Run(o)
}

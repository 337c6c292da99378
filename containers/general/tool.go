package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/refractionPOINT/syslog-generator/counters"
	"github.com/refractionPOINT/syslog-generator/generator"
	"github.com/refractionPOINT/syslog-generator/scheduler"
	"github.com/refractionPOINT/syslog-generator/utils"
	"github.com/rs/zerolog"

	"gopkg.in/yaml.v3"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errShowVersion = errors.New("version requested")

var logger = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func log(format string, elems ...interface{}) {
	logger.Info().Msgf(format, elems...)
}

func logError(format string, elems ...interface{}) string {
	s := fmt.Sprintf(format, elems...)
	logger.Error().Msg(s)
	return s
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: ./syslog-generator --config config.yaml [--count N] [key=value...]")
	fmt.Fprintln(os.Stderr, "       ./syslog-generator --version")
	fmt.Fprintln(os.Stderr, "       ./syslog-generator [-install:svcName | -remove:svcName | -debug] --config config.yaml")
}

func printConfig(c generator.GeneratorConfig) {
	if c.TLS.TrustStorePassword != "" {
		c.TLS.TrustStorePassword = "***"
	}
	if c.AWSSecretKey != "" {
		c.AWSSecretKey = "***"
	}
	if strings.HasPrefix(c.GCSCredentials, "{") {
		c.GCSCredentials = "***"
	}
	b, _ := yaml.Marshal(c)
	log("Configs in use:\n----------------------------------\n%s----------------------------------", string(b))
}

func isServiceAction(arg string) bool {
	return arg == "-debug" ||
		strings.HasPrefix(arg, "-install:") ||
		strings.HasPrefix(arg, "-remove:") ||
		strings.HasPrefix(arg, "-run:")
}

func main() {
	if len(os.Args) > 1 && isServiceAction(os.Args[1]) {
		if err := serviceMode(os.Args[0], os.Args[1], os.Args[2:]); err != nil {
			logError("service: %v", err)
			os.Exit(1)
		}
		return
	}

	conf, err := parseArgs(os.Args[1:])
	if err == errShowVersion {
		fmt.Println(version)
		return
	}
	if err != nil {
		logError("error: %s", err)
		printUsage()
		os.Exit(1)
	}

	log("starting syslog-generator %s", version)
	r, err := runGenerator(conf)
	if err != nil {
		logError("runGenerator(): %v", err)
		os.Exit(1)
	}

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)

	select {
	case <-osSignals:
		log("received signal to exit")
	case <-r.generator.Done():
		log("count reached")
	}
	if err := r.Close(); err != nil {
		logError("error stopping generator: %v", err)
		os.Exit(1)
	}
	log("exited")
}

// parseArgs reads the config file named by --config, then applies --count
// and any trailing key=value overrides, and validates the result.
func parseArgs(args []string) (*generator.GeneratorConfig, error) {
	fs := flag.NewFlagSet("syslog-generator", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to the yaml or json config file")
	count := fs.Uint64("count", 0, "stop after reading this many lines, 0 for unlimited")
	showVersion := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		return nil, errShowVersion
	}
	if *configPath == "" {
		return nil, errors.New("--config is required")
	}

	conf, err := parseConfigFromFile(*configPath)
	if err != nil {
		return nil, err
	}
	if err := utils.ParseCLI(fs.Args(), conf); err != nil {
		return nil, fmt.Errorf("ParseCLI(): %v", err)
	}
	if *count != 0 {
		conf.Count = *count
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func parseConfigFromFile(filePath string) (*generator.GeneratorConfig, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(): %v", err)
	}

	conf := &generator.GeneratorConfig{}
	jsonErr := json.NewDecoder(bytes.NewBuffer(b)).Decode(conf)
	if jsonErr == nil {
		return conf, nil
	}
	conf = &generator.GeneratorConfig{}
	yamlErr := yaml.NewDecoder(bytes.NewBuffer(b)).Decode(conf)
	if yamlErr == io.EOF {
		return nil, fmt.Errorf("%s: empty config", filePath)
	}
	if yamlErr != nil {
		return nil, fmt.Errorf("decoding error: json=%v yaml=%v", jsonErr, yamlErr)
	}
	return conf, nil
}

func applyLogging(level string) utils.LogOptions {
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
			lvl = l
		} else {
			logError("unknown log_level %q, using info", level)
		}
	}
	zerolog.SetGlobalLevel(lvl)

	return utils.LogOptions{
		DebugLog: func(msg string) {
			logger.Debug().Msg(msg)
		},
		OnWarning: func(msg string) {
			logger.Warn().Msg(msg)
		},
		OnError: func(err error) {
			logger.Error().Err(err).Send()
		},
	}
}

type runner struct {
	sched     *scheduler.TickScheduler
	generator *generator.Generator
	reporter  *counters.Reporter
}

func runGenerator(conf *generator.GeneratorConfig) (*runner, error) {
	conf.LogOptions = applyLogging(conf.LogLevel)

	sched := scheduler.NewTickScheduler(time.Second, conf.MaxConcurrentTicks, conf.LogOptions)
	registry := counters.NewRegistry()
	g, err := generator.NewGenerator(*conf, sched, registry)
	if err != nil {
		return nil, err
	}
	printConfig(g.Config())

	if err := g.Start(context.Background()); err != nil {
		sched.Close()
		return nil, err
	}
	log("run %s started", g.RunID())

	r := &runner{
		sched:     sched,
		generator: g,
		reporter: counters.NewReporter(registry, time.Duration(g.Config().ReportIntervalSec)*time.Second, func(line string) {
			logger.Info().Str("run", g.RunID()).Msg(line)
		}),
	}
	r.reporter.Start()

	if conf.Healthcheck != 0 {
		if err := startHealthChecks(conf.Healthcheck, g, registry); err != nil {
			r.Close()
			return nil, fmt.Errorf("startHealthChecks(): %v", err)
		}
	}
	return r, nil
}

func (r *runner) Close() error {
	err := r.generator.Stop()
	r.sched.Close()
	r.reporter.Stop()
	stopHealthChecks()
	return err
}

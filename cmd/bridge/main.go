package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cloudkucooland/cowaybridge"
	"github.com/cloudkucooland/cowaybridge/config"
	"github.com/cloudkucooland/cowaybridge/platform"

	hclog "github.com/brutella/hc/log"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	var dir, file string

	app := cli.App{
		Name:  "cowaybridge",
		Usage: "expose Coway IoCare purifiers to HomeKit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Value:       "config",
				Usage:       "configuration directory",
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "config",
				Value:       "bridge.yaml",
				Usage:       "configuration file",
				Destination: &file,
			},
		},
		Action: func(c *cli.Context) error {
			fulldir, err := filepath.Abs(dir)
			if err != nil {
				return cli.Exit("unable to get config directory: "+dir, 1)
			}
			cfd := filepath.Join(fulldir, file)

			conf, err := config.Load(cfd)
			if err != nil {
				return cli.Exit("unable to load config "+cfd+": "+err.Error(), 1)
			}
			conf.ConfigDir = fulldir
			conf.ConfigFile = cfd
			config.Set(conf)

			setupLogging(conf.Log.Level, conf.Log.JSON, conf.Log.Colors)
			log.Info().Str("config", cfd).Msg("starting cowaybridge")

			// spin up platforms, Coway discovers its devices here
			cowaybridge.BootstrapPlatforms(conf)

			// HC can only be started once all accessories are known
			if err := cowaybridge.StartHC(conf); err != nil {
				platform.ShutdownAllPlatforms()
				return cli.Exit(err.Error(), 1)
			}

			// run all the background processes
			platform.Background()

			// wait for signal to shut down
			sigch := make(chan os.Signal, 3)
			signal.Notify(sigch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP, os.Interrupt)

			// loop until signal sent
			sig := <-sigch

			log.Info().Str("signal", sig.String()).Msg("shutdown requested")
			platform.ShutdownAllPlatforms()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("cowaybridge")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
		hclog.Debug.Enable()
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		hclog.Debug.Enable()
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

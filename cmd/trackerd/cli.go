package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// cliOptions holds the command line configuration of the daemon.
type cliOptions struct {
	configDir  string
	replayPath string
	startLat   float64
	startLon   float64
	dropRate   float64
}

func parseCLI(args []string) (cliOptions, error) {
	opts := cliOptions{}
	var start string

	fs := flag.NewFlagSet("trackerd", flag.ContinueOnError)
	fs.StringVar(&opts.configDir, "config", ".", "directory containing "+configFileHint)
	fs.StringVar(&opts.replayPath, "replay", "", "JSON-lines file of location samples to replay instead of the simulated walk")
	fs.StringVar(&start, "start", "52.5200,13.4050", "start position for the simulated walk, \"lat,lon\"")
	fs.Float64Var(&opts.dropRate, "droprate", 0, "fraction of simulated fixes that fail (0..1), for exercising the fallback path")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	lat, lon, err := parseLatLon(start)
	if err != nil {
		return opts, err
	}
	opts.startLat, opts.startLon = lat, lon

	if opts.dropRate < 0 || opts.dropRate > 1 {
		return opts, fmt.Errorf("droprate must be within [0,1], got %v", opts.dropRate)
	}
	return opts, nil
}

func parseLatLon(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"lat,lon\", got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}
	return lat, lon, nil
}

// Command thingmsg-demo registers handlers for live messages on one client,
// sends a set of example messages from a second client and waits until the
// expected number of deliveries has happened.
//
//	thingmsg-demo -config configs/thingmsg.yaml
//
// It exits 0 when every expected delivery arrived, 2 when waiting timed out
// and 1 on setup errors.
package main

import (
	"flag"
	"os"
)

// Options holds CLI options for the demo.
type Options struct {
	ConfigPath string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("thingmsg-demo", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	_ = fs.Parse(args)
	return opts
}

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

// Command gcd is a CLI interface to a gcd store:
// it serves the store over HTTP and reads and writes packets,
// either directly or through a remote server given with -url.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ldotlopez/gcd"
	"github.com/ldotlopez/gcd/client"
	"github.com/ldotlopez/gcd/config"
)

type maincmd struct {
	s     gcd.Service
	store *gcd.Store // nil when s is a remote client
	conf  config.Config
	reg   *prometheus.Registry
	in    io.Reader
	out   io.Writer
}

func main() {
	var (
		configFile = flag.String("config", "", "path to config file, JSON or YAML (default: file store in ./gcd-data)")
		serverURL  = flag.String("url", "", "base URL of a gcd server to use in place of a local store")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := maincmd{in: os.Stdin, out: os.Stdout}

	if *serverURL != "" {
		c.s = client.New(*serverURL, nil)
		if err := subcmd.Run(ctx, c, flag.Args()); err != nil {
			log.Fatal(err)
		}
		return
	}

	c.conf = config.Default()
	if *configFile != "" {
		var err error
		c.conf, err = config.Load(*configFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	c.reg = prometheus.NewRegistry()
	c.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := gcd.NewMetrics(c.reg)
	if err != nil {
		log.Fatalf("Creating metrics: %s", err)
	}

	s, closer, err := config.Open(ctx, c.conf, gcd.WithMetrics(m))
	if err != nil {
		log.Fatalf("Creating %s-type store: %s", c.conf.Backend, err)
	}
	c.s, c.store = s, s

	err = subcmd.Run(ctx, c, flag.Args())
	if cerr := closer.Close(); cerr != nil {
		log.Printf("ERROR closing store: %s", cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"attachment", c.attachment, nil,
		"backlog", c.backlog, subcmd.Params(
			"start", subcmd.Int, 0, "index of the newest packet to show",
			"end", subcmd.Int, -1, "index past the oldest packet to show (default: start plus the default window)",
		),
		"get", c.get, nil,
		"ls", c.ls, nil,
		"put", c.put, subcmd.Params(
			"at", subcmd.String, "", "timestamp for the packet (default: now)",
			"attach", subcmd.String, "", "comma-separated NAME=PATH files to attach",
		),
		"serve", c.serve, subcmd.Params(
			"addr", subcmd.String, c.conf.Addr, "listen address",
		),
	)
}

var layouts = []string{
	gcd.TimeLayout, time.RFC3339Nano, time.RFC3339, time.ANSIC, time.UnixDate,
}

func parsetime(s string) (time.Time, error) {
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil { // sic
			return t, nil
		}
	}
	return time.Time{}, errors.New("could not parse time")
}

// Command initd is the supervisor: it starts the core service and
// driver processes in boot order and keeps them running, restarting
// crashed drivers per the driver manager's budget policy.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/drivermanager"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
	"github.com/Whoisraeen/Scarlett-OS/internal/supervisor"
)

var log = logrus.WithField("source", "initd")

func bootSequence(binDir string) []supervisor.ServiceSpec {
	// Mirrors service_startup.rs's fixed order: bus enumeration and
	// the two managers come up before anything that depends on them.
	return []supervisor.ServiceSpec{
		{Name: "pcibusd", Path: binDir + "/pcibusd"},
		{Name: "devicemanagerd", Path: binDir + "/devicemanagerd"},
		{Name: "drivermanagerd", Path: binDir + "/drivermanagerd"},
		{Name: "securityd", Path: binDir + "/securityd"},
		{Name: "vfsd", Path: binDir + "/vfsd"},
		{Name: "netstackd", Path: binDir + "/netstackd"},
		{Name: "wmd", Path: binDir + "/wmd"},
		{Name: "keyboardd", Path: binDir + "/keyboardd"},
		{Name: "moused", Path: binDir + "/moused"},
	}
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dm := drivermanager.New()
	sup := supervisor.New(dm)

	specs := bootSequence(c.String("bin-dir"))
	if err := sup.Start(ctx, specs); err != nil {
		return err
	}

	log.Info("boot sequence complete, supervising")
	sup.Supervise(ctx)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "initd",
		Usage: "supervise core services and drivers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
			&cli.StringFlag{Name: "bin-dir", Value: "/sbin", Usage: "directory containing service/driver binaries"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("initd exiting")
	}
}

// Command moused decodes PS/2-style mouse packets and forwards them to
// the window manager's input hub.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
	"github.com/Whoisraeen/Scarlett-OS/internal/wm"
)

var log = logrus.WithField("source", "moused")

const driverPort = 202

// inputHubPort is wmd's well-known port for decoded input events.
const inputHubPort = 200

func serve(ctx context.Context, port *ipc.Port) error {
	hub, ok := ipc.Lookup(inputHubPort)
	if !ok {
		return errors.Errorf("moused: input hub not found on port %d", inputHubPort)
	}
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		payload := msg.Payload()
		if len(payload) < 3 {
			continue
		}
		var packet [3]byte
		copy(packet[:], payload[:3])
		ev := wm.DecodeMousePacket(packet)
		log.WithFields(logrus.Fields{"dx": ev.DX, "dy": ev.DY, "buttons": ev.Button}).Debug("mouse event decoded")
		var out ipc.Message
		if err := out.SetInline(wm.EncodeEvent(ev)); err != nil {
			log.WithError(err).Warn("failed to encode mouse event")
			continue
		}
		if err := ipc.Send(ctx, hub, out); err != nil {
			log.WithError(err).Warn("failed to forward mouse event")
		}
	}
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	port := ipc.CreatePort(driverPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("mouse driver ready")
	return serve(ctx, port)
}

func main() {
	app := &cli.App{
		Name:  "moused",
		Usage: "mouse driver",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("moused exiting")
	}
}

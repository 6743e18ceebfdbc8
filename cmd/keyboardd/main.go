// Command keyboardd decodes scancodes from the keyboard device and
// forwards them to the window manager's input hub.
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

var log = logrus.WithField("source", "keyboardd")

const driverPort = 201

// inputHubPort is wmd's well-known port for decoded input events.
const inputHubPort = 200

func serve(ctx context.Context, port *ipc.Port) error {
	hub, ok := ipc.Lookup(inputHubPort)
	if !ok {
		return errors.Errorf("keyboardd: input hub not found on port %d", inputHubPort)
	}
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		for _, b := range msg.Payload() {
			ev := wm.DecodeScancode(b)
			log.WithField("key", ev.Key).Debug("key event decoded")
			var out ipc.Message
			if err := out.SetInline(wm.EncodeEvent(ev)); err != nil {
				log.WithError(err).Warn("failed to encode key event")
				continue
			}
			if err := ipc.Send(ctx, hub, out); err != nil {
				log.WithError(err).Warn("failed to forward key event")
			}
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

	log.Info("keyboard driver ready")
	return serve(ctx, port)
}

func main() {
	app := &cli.App{
		Name:  "keyboardd",
		Usage: "keyboard driver",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("keyboardd exiting")
	}
}

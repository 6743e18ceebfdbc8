// Command wmd is the window manager and input hub service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
	"github.com/Whoisraeen/Scarlett-OS/internal/wm"
)

var log = logrus.WithField("source", "wmd")

// inputPort is the well-known port keyboardd and moused forward
// decoded events to for hub broadcast and window routing.
const inputPort = 200

func serve(ctx context.Context, port *ipc.Port, hub *wm.InputHub, windows *wm.Manager) error {
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		ev, err := wm.DecodeEvent(msg.Payload())
		if err != nil {
			log.WithError(err).Warn("dropping malformed input event")
			continue
		}
		if ev.Kind == wm.EventMouseMove || ev.Kind == wm.EventMouseButton {
			if w, ok := windows.TopmostAt(ev.DX, ev.DY); ok {
				hub.Dispatch(ev, w.ID)
				continue
			}
		}
		hub.Broadcast(ctx, ev)
	}
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	hub := wm.NewInputHub()
	windows := wm.NewManager()

	port := ipc.CreatePort(inputPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("window manager ready")
	return serve(ctx, port, hub, windows)
}

func main() {
	app := &cli.App{
		Name:  "wmd",
		Usage: "window manager and input hub service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("wmd exiting")
	}
}

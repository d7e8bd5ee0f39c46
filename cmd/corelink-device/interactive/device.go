// Package interactive provides the interactive command-line interface
// for the corelink reference device.
package interactive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/corelink-protocol/corelink-go/internal/coretest"
	"github.com/corelink-protocol/corelink-go/pkg/session"
)

const commandTimeout = 10 * time.Second

// Device handles interactive mode for corelink-device.
type Device struct {
	sess *session.Session
	conn func() *coretest.Conn
	core *coretest.Core
	rl   *readline.Instance

	children map[string]*session.Session
}

// New creates a new interactive device handler. conn resolves the
// current transport connection so drop/reconnect can be scripted.
func New(sess *session.Session, conn func() *coretest.Conn, core *coretest.Core) (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	d := &Device{
		sess:     sess,
		conn:     conn,
		core:     core,
		rl:       rl,
		children: make(map[string]*session.Session),
	}

	sess.OnConnectionChanged(func(connected bool) {
		fmt.Fprintf(rl.Stdout(), "[EVENT] connectivity: %v\n", connected)
	})
	sess.OnError(func(err error) {
		fmt.Fprintf(rl.Stdout(), "[EVENT] session error: %v\n", err)
	})

	return d, nil
}

// Run starts the interactive command loop.
func (d *Device) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			d.printHelp()

		case "info", "i":
			d.cmdInfo()

		case "status", "st":
			d.cmdStatus(args)

		case "ping":
			d.cmdPing()

		case "sub":
			d.cmdSubscribe(args, false)

		case "autosub":
			d.cmdSubscribe(args, true)

		case "unsub":
			d.cmdUnsubscribe(args)

		case "drop":
			d.cmdDrop()

		case "reconnect", "rc":
			d.cmdReconnect()

		case "child":
			d.cmdChild(args)

		case "children":
			d.cmdChildren()

		case "time":
			d.cmdTime()

		case "uninit":
			d.cmdUnInitialize()

		case "quit", "exit", "q":
			fmt.Fprintln(d.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(d.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (d *Device) printHelp() {
	fmt.Fprintln(d.rl.Stdout(), `
Corelink Device Commands:
  Session:
    info               - Show session state
    status <code>      - Report a status code (0-5) to the core
    ping               - Send a keep-alive ping
    time               - Show the core's estimated current time
    uninit             - Unregister the device from the core

  Subscriptions:
    sub <name>         - Plain subscription (lost on reconnect)
    autosub <name>     - Auto subscription (replayed on reconnect)
    unsub <id>         - Cancel a subscription

  Transport:
    drop               - Drop the transport connection
    reconnect          - Reconnect under a fresh connection id

  Hierarchy:
    child add <id>     - Attach a child session for device <id>
    child rm <id>      - Destroy the child session for device <id>
    children           - List child sessions

  General:
    help               - Show this help
    quit               - Exit device`)
}

func (d *Device) cmdInfo() {
	out := d.rl.Stdout()
	fmt.Fprintf(out, "Device id:       %s\n", d.sess.DeviceID())
	fmt.Fprintf(out, "Connected:       %v\n", d.sess.Connected())
	fmt.Fprintf(out, "Transport id:    %s\n", d.sess.TransportSessionID())
	fmt.Fprintf(out, "Auto subs:       %d\n", d.sess.AutoSubscriptionCount())
	if wd := d.sess.Watchdog(); wd != nil {
		fmt.Fprintf(out, "Watchdog:        armed=%v checks=%d\n", wd.Armed(), wd.CheckCount())
	} else {
		fmt.Fprintln(out, "Watchdog:        disabled")
	}
	if ts := d.sess.TimeSync(); ts != nil {
		roundTrip, ok := ts.Quality()
		fmt.Fprintf(out, "Time sync:       synced=%v roundTrip=%s offset=%s\n", ok, roundTrip, ts.Offset())
	}
}

func (d *Device) cmdStatus(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: status <code> [message...]")
		return
	}

	var code session.StatusCode
	if _, err := fmt.Sscanf(args[0], "%d", &code); err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Invalid status code: %s\n", args[0])
		return
	}

	status := session.Status{Code: code}
	if len(args) > 1 {
		status.Messages = []string{strings.Join(args[1:], " ")}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	accepted, err := d.sess.SetStatus(ctx, status)
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Status report failed: %v\n", err)
		return
	}
	fmt.Fprintf(d.rl.Stdout(), "Core accepted status %s\n", accepted.Code)
}

func (d *Device) cmdPing() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := d.sess.Ping(ctx); err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Ping failed: %v\n", err)
		return
	}
	fmt.Fprintln(d.rl.Stdout(), "Pong")
}

func (d *Device) cmdSubscribe(args []string, auto bool) {
	if len(args) < 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: sub|autosub <publication>")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var (
		id  string
		err error
	)
	if auto {
		id, err = d.sess.AutoSubscribe(ctx, args[0])
	} else {
		id, err = d.sess.Subscribe(ctx, args[0])
	}
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(d.rl.Stdout(), "Subscribed: %s\n", id)
}

func (d *Device) cmdUnsubscribe(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: unsub <id>")
		return
	}
	if err := d.sess.Unsubscribe(args[0]); err != nil {
		fmt.Fprintf(d.rl.Stdout(), "Unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintln(d.rl.Stdout(), "Unsubscribed")
}

func (d *Device) cmdDrop() {
	if conn := d.conn(); conn != nil {
		conn.Drop()
	}
}

func (d *Device) cmdReconnect() {
	if conn := d.conn(); conn != nil {
		conn.Reconnect()
	}
}

func (d *Device) cmdChild(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(d.rl.Stdout(), "Usage: child add|rm <device-id>")
		return
	}
	action, deviceID := strings.ToLower(args[0]), args[1]

	switch action {
	case "add":
		if _, exists := d.children[deviceID]; exists {
			fmt.Fprintf(d.rl.Stdout(), "Child %s already attached\n", deviceID)
			return
		}

		child, err := session.New(session.Options{
			Identity:   session.DeviceIdentity{DeviceID: deviceID, Token: deviceID + "-token"},
			Descriptor: session.DeviceDescriptor{Type: "sub-device", Name: deviceID},
		})
		if err != nil {
			fmt.Fprintf(d.rl.Stdout(), "Creating child: %v\n", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		assigned, err := child.InitWithParent(ctx, d.sess)
		if err != nil {
			fmt.Fprintf(d.rl.Stdout(), "Attaching child: %v\n", err)
			return
		}
		d.children[deviceID] = child
		fmt.Fprintf(d.rl.Stdout(), "Child attached as %s\n", assigned)

	case "rm":
		child, exists := d.children[deviceID]
		if !exists {
			fmt.Fprintf(d.rl.Stdout(), "No child %s\n", deviceID)
			return
		}
		child.Destroy()
		delete(d.children, deviceID)
		fmt.Fprintln(d.rl.Stdout(), "Child destroyed")

	default:
		fmt.Fprintln(d.rl.Stdout(), "Usage: child add|rm <device-id>")
	}
}

func (d *Device) cmdChildren() {
	if len(d.children) == 0 {
		fmt.Fprintln(d.rl.Stdout(), "No children")
		return
	}
	for id, child := range d.children {
		fmt.Fprintf(d.rl.Stdout(), "  %s  connected=%v\n", id, child.Connected())
	}
}

func (d *Device) cmdTime() {
	fmt.Fprintf(d.rl.Stdout(), "Core time: %s\n", d.sess.CurrentTime().Format(time.RFC3339Nano))
}

func (d *Device) cmdUnInitialize() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	id, err := d.sess.UnInitialize(ctx)
	if err != nil {
		fmt.Fprintf(d.rl.Stdout(), "UnInitialize failed: %v\n", err)
		return
	}
	fmt.Fprintf(d.rl.Stdout(), "Core released device %s\n", id)
}

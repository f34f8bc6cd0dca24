package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/relay"
	"github.com/1ureka/relaysync/internal/util"
)

// errQuit ends a drive session from the command line.
var errQuit = errors.New("quit")

// Driver holds the active role and publishes the tutorial state it is told
// to, one command per input line.
type Driver struct {
	*runner

	mu    sync.Mutex
	state protocol.TutorialState
}

// NewDriver builds an active runner starting from initial.
func NewDriver(opts Options, initial protocol.TutorialState) (*Driver, error) {
	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}
	d := &Driver{runner: r, state: initial}
	r.chooseRole = d.claim
	r.render = d.render
	return d, nil
}

// Run connects and executes commands from in until EOF, "quit", ctx is done
// or a fatal error occurs.
func (d *Driver) Run(ctx context.Context, in io.Reader) error {
	if err := d.connect(ctx); err != nil {
		return err
	}
	defer d.client.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-d.fatal:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := d.Exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				util.LogWarning("%v", err)
			}
		}
	}
}

// State returns the state the driver publishes.
func (d *Driver) State() protocol.TutorialState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// claim takes the active role, or follows when another peer already holds it.
func (d *Driver) claim() error {
	err := d.client.Sync.AsActive()
	if err == nil || !relay.IsType(err, relay.ErrInvalidOperation) {
		return err
	}
	util.LogWarning("%v; following instead (use \"take\" once it is released)", err)
	return d.client.Sync.AsPassive()
}

func (d *Driver) render(ev relay.Event) {
	switch e := ev.(type) {
	case relay.PhaseChanged:
		if e.Phase == relay.PhaseActive {
			util.LogSuccess("driving the tutorial")
			d.publish()
		}
	case relay.TutorialStateReceived:
		d.mu.Lock()
		d.state = e.State
		d.mu.Unlock()
		util.LogInfo("state updated by %s", e.From)
	case relay.ControlOfferReceived:
		util.LogInfo("peer %s offers control; accepting", e.Offer.FromClientID)
		_ = e.Offer.Accept()
	case relay.ControlAccepted:
		util.LogInfo("%s took over", e.By)
	case relay.ControlDeclined:
		util.LogInfo("%s declined the offer", e.By)
	case relay.ControlReleased:
		util.LogInfo("%s released control", e.By)
	}
}

// publish sends the current state when active. Otherwise the state is kept
// and sent on the next transition to ACTIVE.
func (d *Driver) publish() {
	if !d.client.Is.Active() {
		util.LogDebug("not active, state kept locally")
		return
	}
	if err := d.client.Tutorial.SendState(d.State()); err != nil {
		util.LogWarning("%v", err)
	}
}

// Exec runs one command line.
func (d *Driver) Exec(line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}
	if cmd.name == "" {
		return nil
	}

	switch cmd.name {
	case "quit":
		return errQuit
	case "help":
		pterm.Println(helpText)
		return nil
	case "status":
		pterm.Println(renderStatus(d.client.UIState()))
		return nil
	case "send":
		d.publish()
		return nil
	case "take":
		return d.client.Control.TakeControl()
	case "release":
		return d.client.Control.Release()
	case "offer":
		target := cmd.arg
		if target == "" {
			peers := d.client.UIState().Peers
			if len(peers) != 1 {
				return fmt.Errorf("offer needs a client id when %d peers are connected", len(peers))
			}
			target = peers[0]
		}
		id, err := d.client.Control.OfferToPeer(target)
		if err != nil {
			return err
		}
		util.LogInfo("offered control to %s (offer %s)", target, id)
		return nil
	}

	d.mu.Lock()
	err = cmd.apply(&d.state)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.publish()
	return nil
}

// command is one parsed input line.
type command struct {
	name string
	arg  string
}

var commandNames = map[string]bool{
	"id": true, "title": true, "steps": true, "content": true, "repo": true,
	"solution": true, "send": true, "offer": true, "take": true,
	"release": true, "status": true, "help": true, "quit": true,
}

const helpText = `commands:
  id <id>             set tutorial id
  title <text>        set tutorial title
  steps <n>           set total steps
  content <text>      set step content
  repo <url>          set repository url
  solution [on|off]   show or hide the solution (toggles without argument)
  send                publish the current state again
  offer [client-id]   offer control to a peer
  take | release      take or give up the active role
  status | help | quit`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return command{}, nil
	}
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	if !commandNames[name] {
		return command{}, fmt.Errorf("unknown command %q (try \"help\")", name)
	}
	return command{name: name, arg: strings.TrimSpace(arg)}, nil
}

// apply edits s for the state-changing commands.
func (c command) apply(s *protocol.TutorialState) error {
	switch c.name {
	case "id":
		s.TutorialID = c.arg
	case "title":
		s.TutorialTitle = c.arg
	case "content":
		s.StepContent = c.arg
	case "repo":
		s.RepoURL = c.arg
	case "steps":
		n, err := strconv.Atoi(c.arg)
		if err != nil || n < 0 {
			return fmt.Errorf("steps must be a non-negative number, got %q", c.arg)
		}
		s.TotalSteps = n
	case "solution":
		switch strings.ToLower(c.arg) {
		case "":
			s.IsShowingSolution = !s.IsShowingSolution
		case "on", "show", "true":
			s.IsShowingSolution = true
		case "off", "hide", "false":
			s.IsShowingSolution = false
		default:
			return fmt.Errorf("solution takes on or off, got %q", c.arg)
		}
	default:
		return fmt.Errorf("%s does not change the state", c.name)
	}
	return nil
}

// renderStatus formats a client snapshot as a table.
func renderStatus(ui relay.UIState) string {
	orNone := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	data := pterm.TableData{
		{"Phase", ui.Phase.String()},
		{"Connection", ui.Status.String()},
		{"Session", orNone(ui.SessionID)},
		{"Client", orNone(ui.ClientID)},
		{"Active", orNone(ui.ActiveClientID)},
		{"Peers", orNone(strings.Join(ui.Peers, ", "))},
	}
	if ui.ReconnectAttempt > 0 {
		data = append(data, []string{"Reconnect attempt", strconv.Itoa(ui.ReconnectAttempt)})
	}
	out, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return fmt.Sprintf("%+v", ui)
	}
	return out
}

package app

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/relaysync/internal/protocol"
	"github.com/1ureka/relaysync/internal/relay"
	"github.com/1ureka/relaysync/internal/util"
)

// Watcher follows the active peer and prints every tutorial state it
// receives.
type Watcher struct {
	*runner
	acceptOffers bool
	onState      func(from string, s protocol.TutorialState)
}

// NewWatcher builds a passive runner. With acceptOffers set, control offers
// are accepted instead of declined.
func NewWatcher(opts Options, acceptOffers bool) (*Watcher, error) {
	r, err := newRunner(opts)
	if err != nil {
		return nil, err
	}
	w := &Watcher{runner: r, acceptOffers: acceptOffers, onState: printState}
	r.chooseRole = w.client.Sync.AsPassive
	r.render = w.render
	return w, nil
}

// Run connects and follows until ctx is done or a fatal error occurs.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.connect(ctx); err != nil {
		return err
	}
	defer w.client.Disconnect()
	return w.wait(ctx)
}

func (w *Watcher) render(ev relay.Event) {
	switch e := ev.(type) {
	case relay.TutorialStateReceived:
		w.onState(e.From, e.State)
	case relay.ControlOfferReceived:
		if w.acceptOffers {
			util.LogInfo("accepting control from %s", e.Offer.FromClientID)
			_ = e.Offer.Accept()
			return
		}
		util.LogInfo("declining control from %s", e.Offer.FromClientID)
		_ = e.Offer.Decline()
	case relay.ControlGranted:
		util.LogDebug("active client is now %s", e.ActiveClientID)
	}
}

func printState(from string, s protocol.TutorialState) {
	pterm.Println(renderState(from, s))
}

// renderState formats a tutorial state as a titled box.
func renderState(from string, s protocol.TutorialState) string {
	title := s.TutorialTitle
	if title == "" {
		title = s.TutorialID
	}
	solution := "hidden"
	if s.IsShowingSolution {
		solution = "shown"
	}
	body := fmt.Sprintf("Tutorial: %s\nSteps:    %d\nSolution: %s", s.TutorialID, s.TotalSteps, solution)
	if s.RepoURL != "" {
		body += "\nRepo:     " + s.RepoURL
	}
	if s.StepContent != "" {
		body += "\n\n" + s.StepContent
	}
	if from != "" {
		title += " · from " + from
	}
	return pterm.DefaultBox.WithTitle(title).Sprint(body)
}

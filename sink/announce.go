package sink

import (
	"context"
	"os/exec"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/audiosink/logging"
	"go.viam.com/audiosink/utils"
)

// announceQueueSize bounds the utterances waiting to be spoken.
const announceQueueSize = 8

// An Announcer tells whoever is near the speaker what the sink is doing. Announce must not block.
type Announcer interface {
	Announce(utterance string)
}

// CommandAnnouncer speaks utterances by running a text-to-speech command, such as espeak, with the
// utterance appended as the last argument. Utterances are spoken one at a time in the order they
// were announced. Ones that arrive while the queue is full are dropped.
type CommandAnnouncer struct {
	argv    []string
	queue   chan string
	logger  logging.Logger
	workers utils.StoppableWorkers
}

// NewCommandAnnouncer starts an announcer running argv.
func NewCommandAnnouncer(argv []string, logger logging.Logger) (*CommandAnnouncer, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("announce command is empty")
	}
	a := &CommandAnnouncer{
		argv:   slices.Clone(argv),
		queue:  make(chan string, announceQueueSize),
		logger: logger,
	}
	a.workers = utils.NewStoppableWorkers(context.Background(), a.speak)
	return a, nil
}

// Announce queues utterance.
func (a *CommandAnnouncer) Announce(utterance string) {
	select {
	case a.queue <- utterance:
	default:
		a.logger.Warnw("announcement queue full, dropping", "utterance", utterance)
	}
}

func (a *CommandAnnouncer) speak(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case utterance := <-a.queue:
			args := append(slices.Clone(a.argv[1:]), utterance)
			//nolint:gosec
			out, err := exec.CommandContext(ctx, a.argv[0], args...).CombinedOutput()
			if err != nil && ctx.Err() == nil {
				a.logger.Warnw("announce command failed",
					"command", a.argv[0], "error", err, "output", strings.TrimSpace(string(out)))
				continue
			}
			a.logger.Debugw("announced", "utterance", utterance)
		}
	}
}

// Close stops speaking. Queued utterances are discarded and a command that is running is killed.
func (a *CommandAnnouncer) Close() error {
	a.workers.Stop()
	return nil
}

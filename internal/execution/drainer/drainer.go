// Package drainer relays the output of a child process, line by line,
// to a logging sink.
package drainer

import (
	"bufio"
	"errors"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/lambda-feedback/jobproc/internal/execution/history"
	"github.com/lambda-feedback/jobproc/internal/execution/latch"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink accepts log records. It is shared between drainers and must be safe
// for concurrent use. *zap.Logger satisfies Sink.
type Sink interface {
	Log(lvl zapcore.Level, msg string, fields ...zap.Field)
}

var _ Sink = (*zap.Logger)(nil)

// LineSeparator is used to join the recent history of a stream.
var LineSeparator = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

type Config struct {
	// Name identifies the stream in log records, e.g. "stdout"
	Name string

	// Level is the severity each line is logged at
	Level zapcore.Level

	// HistoryLines is the number of recent lines retained for diagnostics
	HistoryLines int
}

// Drainer continuously reads lines from a stream and forwards them to a
// sink. Each drainer runs in its own goroutine and owns its input stream.
type Drainer struct {
	name  string
	level zapcore.Level

	r       io.ReadCloser
	sink    Sink
	history *history.Lines

	stop *latch.Latch
	done chan struct{}
}

func New(r io.ReadCloser, sink Sink, config Config) *Drainer {
	return &Drainer{
		name:    config.Name,
		level:   config.Level,
		r:       r,
		sink:    sink,
		history: history.New(config.HistoryLines),
		stop:    latch.New(),
		done:    make(chan struct{}),
	}
}

// Start runs the drain loop in a new goroutine. It must be called once.
func (d *Drainer) Start() {
	go d.run()
}

func (d *Drainer) run() {
	defer close(d.done)
	defer d.r.Close()

	reader := bufio.NewReader(d.r)

	for !d.stop.IsFired() {
		line, err := reader.ReadString('\n')

		// a final line without a newline is still delivered
		if line != "" {
			d.record(strings.TrimRight(line, "\r\n"))
		}

		if err == nil {
			continue
		}

		if !isEndOfStream(err) {
			d.sink.Log(zapcore.ErrorLevel, "error reading from output stream",
				zap.String("stream", d.name),
				zap.Error(err),
			)
		}

		return
	}
}

func (d *Drainer) record(line string) {
	d.history.Append(line)
	d.sink.Log(d.level, line, zap.String("stream", d.name))
}

// Stop asks the drainer to stop. The request is checked between lines, a
// pending read is not interrupted. The process supervisor stops drainers it
// abandoned after the drain timeout, other callers own the drainers they
// create.
func (d *Drainer) Stop() {
	d.stop.Fire()
}

// Done returns a channel that is closed once the drain loop has ended.
func (d *Drainer) Done() <-chan struct{} {
	return d.done
}

// AwaitCompletion waits up to timeout for the drain loop to end and
// reports whether it did. A timeout <= 0 does not wait.
func (d *Drainer) AwaitCompletion(timeout time.Duration) bool {
	select {
	case <-d.done:
		return true
	default:
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-d.done:
			return true
		case <-timer.C:
		}
	}

	d.sink.Log(zapcore.DebugLevel, "timed out waiting for output stream to drain",
		zap.String("stream", d.name),
		zap.Duration("timeout", timeout),
	)

	return false
}

// RecentHistory returns the most recent lines, oldest first, joined with
// the platform line separator.
func (d *Drainer) RecentHistory() string {
	return d.history.Join(LineSeparator)
}

// RecentLines returns a copy of the most recent lines, oldest first.
func (d *Drainer) RecentLines() []string {
	return d.history.Lines()
}

// Name returns the stream name.
func (d *Drainer) Name() string {
	return d.name
}

// MARK: - Helpers

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

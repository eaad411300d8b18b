// Package session runs one live conversation end to end: it owns the
// capture adapter for both channels, feeds the self channel to the
// live recognizer, routes the other channel through the mix graph into
// segment rotation and batch dispatch, and serves the control verbs.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kaiwahq/kaiwa/internal/clock"
	"github.com/kaiwahq/kaiwa/internal/device"
	"github.com/kaiwahq/kaiwa/internal/dispatch"
	"github.com/kaiwahq/kaiwa/internal/ipc"
	"github.com/kaiwahq/kaiwa/internal/media"
	"github.com/kaiwahq/kaiwa/internal/mixgraph"
	"github.com/kaiwahq/kaiwa/internal/recognition"
	"github.com/kaiwahq/kaiwa/internal/segment"
	"github.com/kaiwahq/kaiwa/internal/transcript"
)

// Phase is the controller's coarse lifecycle, reported over IPC.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseStopped Phase = "stopped"
)

// AudioSink receives self-channel PCM for live recognition. A nil sink
// means the recognition primitive sources its own audio.
type AudioSink interface {
	SendAudio(p []byte) error
}

type Config struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// Microphone acquires the self channel, System the other channel.
	Microphone media.Source
	System     media.Source

	Recognition *recognition.Session
	AudioSink   AudioSink
	Dispatcher  *dispatch.Dispatcher
	Log         *transcript.Log

	// Gain and DisableKeepAlive configure the other-channel mix graph.
	Gain             float64
	DisableKeepAlive bool

	// RotationInterval is the segment length; zero selects the default.
	RotationInterval time.Duration

	// DebugDir, when set, receives a WAV dump of every rotated segment.
	DebugDir string
}

// Controller coordinates the conversation. Lifecycle events funnel
// through Run's select loop so channel teardown never races shutdown.
type Controller struct {
	logger      *slog.Logger
	clk         clock.Clock
	adapter     *device.Adapter
	recognition *recognition.Session
	audioSink   AudioSink
	dispatcher  *dispatch.Dispatcher
	log         *transcript.Log

	gain             float64
	disableKeepAlive bool
	rotationInterval time.Duration
	debugDir         string

	stopC       chan struct{}
	otherEndedC chan struct{}

	mu     sync.RWMutex
	phase  Phase
	runCtx context.Context
	other  *otherChannel
	level  mixgraph.Level
}

// otherChannel groups the per-conversation other-channel resources so
// they tear down together and in order.
type otherChannel struct {
	graph    *mixgraph.Graph
	recorder interface{ Stop() }
}

// NewController constructs a controller with safe default fallbacks.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	rec := cfg.Recognition
	if rec == nil {
		rec = recognition.NewSession(recognition.Config{Logger: logger, Clock: clk})
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.New(dispatch.Config{Logger: logger})
	}
	log := cfg.Log
	if log == nil {
		log = transcript.NewLog()
	}

	c := &Controller{
		logger:           logger,
		clk:              clk,
		recognition:      rec,
		audioSink:        cfg.AudioSink,
		dispatcher:       dispatcher,
		log:              log,
		gain:             cfg.Gain,
		disableKeepAlive: cfg.DisableKeepAlive,
		rotationInterval: cfg.RotationInterval,
		debugDir:         cfg.DebugDir,
		stopC:            make(chan struct{}, 1),
		otherEndedC:      make(chan struct{}, 1),
		phase:            PhaseIdle,
		runCtx:           context.Background(),
	}
	c.adapter = device.New(device.Config{
		Logger:       logger,
		Microphone:   cfg.Microphone,
		System:       cfg.System,
		OnState:      c.onCaptureState,
		OnOtherEnded: c.onOtherEnded,
	})
	return c
}

// Phase returns the current lifecycle snapshot.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Run starts both channels and blocks serving lifecycle events until
// the context is cancelled or a stop request arrives. Channel starts
// are independent: the conversation proceeds with whichever side came
// up, and only a double failure aborts the run.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("cannot run from state %s", phase)
	}
	c.phase = PhaseRunning
	c.runCtx = ctx
	c.mu.Unlock()

	go c.recognition.Run(ctx)

	selfErr := c.startSelf(ctx)
	if selfErr != nil {
		c.logger.Warn("self channel unavailable", "error", selfErr.Error())
	}
	otherErr := c.startOther(ctx)
	if otherErr != nil {
		c.logger.Warn("other channel unavailable", "error", otherErr.Error())
	}
	if selfErr != nil && otherErr != nil {
		c.shutdown()
		return fmt.Errorf("no capture channel could start: self: %v; other: %v", selfErr, otherErr)
	}

	c.logger.Info("conversation capture running",
		"self", selfErr == nil,
		"other", otherErr == nil)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping: context cancelled")
			c.shutdown()
			return nil
		case <-c.stopC:
			c.logger.Info("stopping: stop requested")
			c.shutdown()
			return nil
		case <-c.otherEndedC:
			c.logger.Info("other channel ended, releasing its pipeline")
			c.teardownOther()
		}
	}
}

// Stop requests an orderly shutdown. Never blocks; repeat requests
// collapse into the one already queued.
func (c *Controller) Stop() {
	select {
	case c.stopC <- struct{}{}:
	default:
	}
}

func (c *Controller) startSelf(ctx context.Context) error {
	stream, err := c.adapter.StartSelf(ctx)
	if err != nil {
		return err
	}
	if err := c.recognition.Start(ctx); err != nil {
		c.adapter.StopSelf()
		return fmt.Errorf("start recognition: %w", err)
	}
	go c.feedRecognizer(stream.AudioTracks()[0])
	return nil
}

// feedRecognizer pumps self-channel PCM into the live recognizer. Send
// failures are logged and skipped: the recognizer handles its own
// reconnects, and audio from the outage window is gone regardless.
func (c *Controller) feedRecognizer(track media.AudioTrack) {
	if c.audioSink == nil {
		return
	}
	for chunk := range track.Chunks() {
		if err := c.audioSink.SendAudio(chunk); err != nil {
			c.logger.Warn("recognizer audio send failed", "error", err.Error())
		}
	}
}

func (c *Controller) startOther(ctx context.Context) error {
	stream, err := c.adapter.StartOther(ctx)
	if err != nil {
		return err
	}
	raw := stream.AudioTracks()[0]

	oc := &otherChannel{}
	feed := raw
	graph, err := mixgraph.New(raw, mixgraph.Config{
		Gain:             c.gain,
		DisableKeepAlive: c.disableKeepAlive,
	})
	if err != nil {
		// Degrade to unsegmented raw recording rather than losing the
		// channel. One oversized transcription beats no transcript.
		c.logger.Warn("mix graph unavailable, recording unsegmented",
			"error", err.Error())
	} else {
		oc.graph = graph
		feed = graph.Output().AudioTracks()[0]
		go c.watchLevels(graph.AnalysisTap())
	}

	segCfg := segment.Config{
		Interval: c.rotationInterval,
		Clock:    c.clk,
		Logger:   c.logger,
	}
	if oc.graph != nil {
		pool, err := segment.NewPool(media.NewStream(feed), c.onSegment, segCfg)
		if err != nil {
			graph.Close()
			c.adapter.StopOther()
			return fmt.Errorf("start segment rotation: %w", err)
		}
		oc.recorder = pool
	} else {
		rec, err := segment.NewSingleRecorder(media.NewStream(feed), c.onSegment, segCfg)
		if err != nil {
			c.adapter.StopOther()
			return fmt.Errorf("start recording: %w", err)
		}
		oc.recorder = rec
	}

	c.mu.Lock()
	c.other = oc
	c.mu.Unlock()
	return nil
}

// onSegment runs on the recorder's pump goroutine. Dispatch spawns its
// own worker per segment, so rotation never waits on the network.
func (c *Controller) onSegment(seg segment.Segment) {
	if c.debugDir != "" {
		if path, err := segment.Dump(c.debugDir, seg); err != nil {
			c.logger.Warn("segment dump failed", "error", err.Error())
		} else {
			c.logger.Debug("segment dumped", "path", path)
		}
	}
	c.mu.RLock()
	ctx := c.runCtx
	c.mu.RUnlock()
	c.dispatcher.Dispatch(ctx, seg)
}

// watchLevels retains the latest analysis reading for status output.
// The tap channel closes when the graph does.
func (c *Controller) watchLevels(tap *mixgraph.Tap) {
	for level := range tap.Levels() {
		c.mu.Lock()
		c.level = level
		c.mu.Unlock()
	}
}

// teardownOther releases the other channel only. The claim under mu
// keeps a queued external end harmless after an intentional stop.
func (c *Controller) teardownOther() {
	c.mu.Lock()
	oc := c.other
	c.other = nil
	c.mu.Unlock()
	if oc == nil {
		return
	}
	if oc.recorder != nil {
		oc.recorder.Stop()
	}
	if oc.graph != nil {
		oc.graph.Close()
	}
	c.adapter.StopOther()
}

// shutdown tears the conversation down in dependency order: recognizer
// first so no new self events arrive, then the other-channel pipeline,
// then the captures, and finally the dispatcher drain so in-flight
// batch transcriptions still land in the log.
func (c *Controller) shutdown() {
	c.mu.Lock()
	if c.phase == PhaseStopped {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseStopped
	c.mu.Unlock()

	c.recognition.Stop()
	c.teardownOther()
	c.adapter.StopSelf()
	c.dispatcher.Wait()
	c.logger.Info("conversation capture stopped")
}

func (c *Controller) onOtherEnded() {
	select {
	case c.otherEndedC <- struct{}{}:
	default:
	}
}

func (c *Controller) onCaptureState(st device.CaptureState) {
	c.logger.Info("capture state",
		"self", st.SelfActive,
		"other", st.OtherActive)
}

// Handle serves the daemon's control verbs.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: string(c.Phase()), Message: c.statusLine()}
	case ipc.CommandTranscript:
		return ipc.Response{OK: true, State: string(c.Phase()), Message: c.log.Render()}
	case ipc.CommandStop:
		return c.requestStop()
	default:
		return ipc.Response{OK: false, State: string(c.Phase()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// requestStop enqueues a stop action when state permits it.
func (c *Controller) requestStop() ipc.Response {
	phase := c.Phase()
	if phase != PhaseRunning {
		return ipc.Response{OK: false, State: string(phase), Error: fmt.Sprintf("cannot stop from state %s", phase)}
	}
	select {
	case c.stopC <- struct{}{}:
		return ipc.Response{OK: true, State: string(phase), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(phase), Message: "stop already requested"}
	}
}

func (c *Controller) statusLine() string {
	st := c.adapter.State()
	c.mu.RLock()
	level := c.level
	c.mu.RUnlock()
	return fmt.Sprintf("self=%t other=%t recognition=%s events=%d level=%.3f",
		st.SelfActive, st.OtherActive, c.recognition.State(), c.log.Len(), level.RMS)
}

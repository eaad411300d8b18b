// Package audio is the PulseAudio capture backend: device discovery,
// source selection for both conversation channels, and PCM record
// streams chunked for the pipeline.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/kaiwahq/kaiwa/internal/media"
)

// Device describes one Pulse source surfaced to kaiwa. Monitor sources
// mirror a sink's playback and feed the other channel.
type Device struct {
	ID          string
	Description string

	State     string
	Available bool
	Muted     bool

	Default bool
	Monitor bool
}

// Selection carries the chosen capture source and, when a fallback was
// taken, the warning to surface to the user.
type Selection struct {
	Device   Device
	Fallback bool
	Warning  string
}

func newClient() (*pulse.Client, error) {
	return pulse.NewClient(
		pulse.ClientApplicationName("kaiwa"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
}

// ListDevices returns available Pulse sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	server, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		out = append(out, deviceFromInfo(info, server.ID()))
	}
	return out, nil
}

func deviceFromInfo(info *pulseproto.GetSourceInfoReply, defaultID string) Device {
	return Device{
		ID:          info.SourceName,
		Description: info.Device,
		State:       sourceStateString(info.State),
		Available:   sourceAvailable(info),
		Muted:       info.Mute,
		Default:     info.SourceName == defaultID,
		Monitor:     isMonitorName(info.SourceName),
	}
}

// DefaultSinkName reports the server's default playback sink, whose
// monitor source carries the other channel.
func DefaultSinkName(_ context.Context) (string, error) {
	client, err := newClient()
	if err != nil {
		return "", fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	var info pulseproto.GetServerInfoReply
	if err := client.RawRequest(&pulseproto.GetServerInfo{}, &info); err != nil {
		return "", fmt.Errorf("read server info: %w", err)
	}
	return info.DefaultSinkName, nil
}

// SelectDevice resolves microphone input/fallback preferences against live devices.
func SelectDevice(ctx context.Context, input, fallback string) (Selection, error) {
	list, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(list, input, fallback)
}

// SelectMonitor resolves the other-channel monitor source: a
// configured sink/monitor preference first, the default sink's monitor
// otherwise.
func SelectMonitor(ctx context.Context, sink string) (Device, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Device{}, err
	}
	if monitor, ok := monitorFromPreference(devices, sink); ok {
		return monitor, nil
	}
	name, err := DefaultSinkName(ctx)
	if err != nil {
		return Device{}, err
	}
	if monitor, ok := monitorForSink(devices, name); ok {
		return monitor, nil
	}
	return Device{}, errors.New("no monitor source for the configured sink")
}

func normalizeTerm(term string) string {
	return strings.TrimSpace(strings.ToLower(term))
}

// wantsDefault reports whether a normalized preference means "use the
// server default" rather than naming a device.
func wantsDefault(term string) bool {
	return term == "" || term == "default"
}

// firstMatch returns the first device matching term, scanning in server order.
func firstMatch(devices []Device, term string) (Device, bool) {
	for _, dev := range devices {
		if deviceMatches(dev, term) {
			return dev, true
		}
	}
	return Device{}, false
}

func serverDefault(devices []Device) (Device, bool) {
	for _, dev := range devices {
		if dev.Default {
			return dev, true
		}
	}
	return Device{}, false
}

// selectDeviceFromList resolves the primary preference, then the
// fallback when the primary is muted or gone.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}
	input = normalizeTerm(input)
	fallback = normalizeTerm(fallback)

	var primary Device
	if wantsDefault(input) {
		dev, ok := serverDefault(devices)
		if !ok {
			return Selection{}, errors.New("default audio source is unavailable")
		}
		primary = dev
	} else {
		dev, ok := firstMatch(devices, input)
		if !ok {
			return Selection{}, fmt.Errorf("audio input %q did not match any device", input)
		}
		primary = dev
	}

	if primary.Available && !primary.Muted {
		return Selection{Device: primary}, nil
	}
	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	var standby Device
	if wantsDefault(fallback) {
		dev, ok := serverDefault(devices)
		if !ok {
			return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: %w", primary.ID, reason, errors.New("default audio source is unavailable"))
		}
		standby = dev
	} else {
		dev, ok := firstMatch(devices, fallback)
		if !ok {
			return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, reason, fallback)
		}
		standby = dev
	}

	switch {
	case !standby.Available:
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", standby.ID)
	case standby.Muted:
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", standby.ID)
	}

	return Selection{
		Device:   standby,
		Warning:  fmt.Sprintf("audio input %q is %s; falling back to %q", primary.ID, reason, standby.ID),
		Fallback: primary.ID != standby.ID,
	}, nil
}

// deviceMatches checks a lowercase search term against id and description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	for _, hay := range []string{device.ID, device.Description} {
		if strings.Contains(strings.ToLower(hay), term) {
			return true
		}
	}
	return false
}

func isMonitorName(name string) bool {
	return strings.HasSuffix(name, ".monitor")
}

// echoCancelDevice finds a usable source produced by the echo-cancel
// module. Pulse has no per-stream processing switch; routing through
// such a source is how the processing request is honored.
func echoCancelDevice(devices []Device) (Device, bool) {
	for _, dev := range devices {
		if dev.Monitor || !dev.Available || dev.Muted {
			continue
		}
		id := strings.ToLower(dev.ID)
		if strings.Contains(id, "echo-cancel") || strings.Contains(id, "echo_cancel") {
			return dev, true
		}
	}
	return Device{}, false
}

// monitorForSink finds the monitor source mirroring the named sink.
func monitorForSink(devices []Device, sink string) (Device, bool) {
	for _, dev := range devices {
		if dev.ID == sink+".monitor" {
			return dev, true
		}
	}
	return Device{}, false
}

// monitorFromPreference matches a configured sink or monitor term
// against monitor sources only.
func monitorFromPreference(devices []Device, term string) (Device, bool) {
	term = normalizeTerm(term)
	if wantsDefault(term) {
		return Device{}, false
	}
	for _, dev := range devices {
		if dev.Monitor && deviceMatches(dev, term) {
			return dev, true
		}
	}
	return Device{}, false
}

// Capture is one live record stream pushing fixed-size PCM chunks.
type Capture struct {
	device Device
	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte

	mu      sync.Mutex
	partial []byte
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	writers  sync.WaitGroup
	bytes    atomic.Int64
}

func openSource(id string) (*pulse.Client, *pulse.Source, error) {
	client, err := newClient()
	if err != nil {
		return nil, nil, fmt.Errorf("connect pulse server: %w", err)
	}
	source, err := client.SourceByID(id)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("resolve source %q: %w", id, err)
	}
	return client, source, nil
}

// StartCapture opens a 16 kHz mono s16 record stream on the selected
// source. The media name labels the stream in mixers so the two
// conversation channels are tellable apart.
func StartCapture(ctx context.Context, selected Device, mediaName string) (*Capture, error) {
	client, source, err := openSource(selected.ID)
	if err != nil {
		return nil, err
	}

	c := &Capture{
		device: selected,
		client: client,
		stopCh: make(chan struct{}),
		chunks: make(chan []byte, 128),
	}

	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(media.SampleRate),
		pulse.RecordBufferFragmentSize(media.ChunkBytes),
		pulse.RecordMediaName(mediaName),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("open pulse record stream: %w", err)
	}
	c.stream = stream

	stream.Start()
	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()
	return c, nil
}

// Device reports which source the stream was opened on.
func (c *Capture) Device() Device { return c.device }

// Chunks is the stream output: fixed-size PCM slices, closed by Stop.
func (c *Capture) Chunks() <-chan []byte { return c.chunks }

// BytesCaptured is the running total of PCM bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 { return c.bytes.Load() }

// Stop tears the stream down and closes Chunks exactly once, flushing
// whatever sub-chunk remainder is still buffered.
func (c *Capture) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		close(c.stopCh)
		c.mu.Unlock()

		if c.stream != nil {
			c.stream.Stop()
			c.stream.Close()
		}
		if c.client != nil {
			c.client.Close()
		}

		// Writers already past the stopped check still append to the
		// remainder; wait them out before the final flush.
		c.writers.Wait()

		c.mu.Lock()
		tail := c.partial
		c.partial = nil
		c.mu.Unlock()

		if len(tail) > 0 {
			select {
			case c.chunks <- append([]byte(nil), tail...):
			default:
			}
		}
		close(c.chunks)
	})
	return nil
}

// Close is Stop without the error.
func (c *Capture) Close() { _ = c.Stop() }

// claimWriter registers the caller as an in-flight writer unless the
// capture is stopped. Registration shares the mutex that guards
// stopped, so Stop cannot slip its Wait between the check and the Add.
func (c *Capture) claimWriter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.writers.Add(1)
	return true
}

func stopRequested(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// onPCM accepts raw frames from the Pulse writer goroutine and emits
// fixed-size slices to chunks. A conversation runs for hours, so only
// the sub-chunk remainder is ever retained between calls.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}
	if stopRequested(c.stopCh) || !c.claimWriter() {
		return 0, io.EOF
	}
	defer c.writers.Done()

	c.bytes.Add(int64(len(buffer)))

	c.mu.Lock()
	c.partial = append(c.partial, buffer...)
	var batch []byte
	if whole := len(c.partial) - len(c.partial)%media.ChunkBytes; whole > 0 {
		batch = append(batch, c.partial[:whole]...)
		c.partial = c.partial[whole:]
	}
	c.mu.Unlock()

	for len(batch) > 0 {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.chunks <- batch[:media.ChunkBytes]:
			batch = batch[media.ChunkBytes:]
		}
	}
	return len(buffer), nil
}

// writerFunc lets a bound method serve as the io.Writer that
// pulse.NewWriter wants.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

var sourceStates = map[uint32]string{
	0: "running",
	1: "idle",
	2: "suspended",
}

func sourceStateString(state uint32) string {
	if s, ok := sourceStates[state]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", state)
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
// Sources without ports, and ports that never report availability, count
// as available.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	for _, port := range source.Ports {
		if port.Name == source.ActivePortName {
			// Availability codes: 0 unknown, 1 no, 2 yes.
			return port.Available != 1
		}
	}
	return true
}

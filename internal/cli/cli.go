package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Command is one CLI verb.
type Command string

const (
	CommandRun        Command = "run"
	CommandStop       Command = "stop"
	CommandStatus     Command = "status"
	CommandTranscript Command = "transcript"
	CommandDevices    Command = "devices"
	CommandDoctor     Command = "doctor"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

var commands = []Command{
	CommandRun,
	CommandStop,
	CommandStatus,
	CommandTranscript,
	CommandDevices,
	CommandDoctor,
	CommandVersion,
	CommandHelp,
}

// Parsed is the outcome of reading argv.
type Parsed struct {
	Command    Command
	ConfigPath string

	// ShowHelp is set for -h/--help, the help verb, and a bare call.
	ShowHelp bool
}

// Parse reads flags and at most one trailing command verb. Anything
// after the verb is an error, and no verb at all means help.
func Parse(args []string) (Parsed, error) {
	var parsed Parsed

	i := 0
	for i < len(args) {
		arg := args[i]
		i++

		switch {
		case arg == "-h" || arg == "--help":
			parsed.Command = CommandHelp
			parsed.ShowHelp = true
		case arg == "--version":
			parsed.Command = CommandVersion
			parsed.ShowHelp = false
		case arg == "--config":
			if i == len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
			i++
		case strings.HasPrefix(arg, "-"):
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			cmd := Command(arg)
			if !slices.Contains(commands, cmd) {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			if i != len(args) {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
		}
	}

	if parsed.Command == "" {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	}
	return parsed, nil
}

const usageTemplate = `Usage:
  %[1]s [--config PATH] <command>

Commands:
  run         Capture and transcribe a conversation until stopped
  stop        Stop the running conversation
  status      Print capture and recognition state
  transcript  Print the transcript captured so far
  devices     List audio sources with default/monitor markers
  doctor      Run configuration and environment checks
  version     Print version information
  help        Show this help

Flags:
  --config PATH   Use PATH instead of $XDG_CONFIG_HOME/kaiwa/config.conf
  -h, --help      Show this help
  --version       Print version and exit
`

func HelpText(binaryName string) string {
	return fmt.Sprintf(usageTemplate, binaryName)
}

// Package command implements the typed monitoring command grammar. It is
// transport-agnostic: Slack events, plain HTTP, and tests all feed the same
// parser.
package command

import (
	"fmt"
	"strings"
)

// Kind identifies a command verb
type Kind string

const (
	KindStart  Kind = "start"
	KindStop   Kind = "stop"
	KindStatus Kind = "status"
)

// Command is a parsed monitoring command
type Command struct {
	Kind  Kind
	Plane string // aircraft alias or ICAO hex (start only)
	Zone  string // drop zone id (start only, optional)
}

// Usage describes the accepted grammar, suitable for echoing back to users
const Usage = "Commands: `start plane=<id> [dz=<zone>]`, `stop`, `status`"

// Parse parses a command line. The grammar is a verb followed by key=value
// arguments; bare arguments to start are taken as plane then zone.
func Parse(text string) (*Command, error) {
	fields := strings.Fields(strings.TrimSpace(strings.ToLower(text)))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command. %s", Usage)
	}

	verb := Kind(fields[0])
	args := fields[1:]

	switch verb {
	case KindStart:
		cmd := &Command{Kind: KindStart}
		var positional []string
		for _, arg := range args {
			key, value, isKV := strings.Cut(arg, "=")
			if !isKV {
				positional = append(positional, arg)
				continue
			}
			switch key {
			case "plane":
				cmd.Plane = value
			case "dz":
				cmd.Zone = value
			default:
				return nil, fmt.Errorf("unknown argument %q. %s", key, Usage)
			}
		}
		for _, arg := range positional {
			switch {
			case cmd.Plane == "":
				cmd.Plane = arg
			case cmd.Zone == "":
				cmd.Zone = arg
			default:
				return nil, fmt.Errorf("too many arguments. %s", Usage)
			}
		}
		if cmd.Plane == "" {
			return nil, fmt.Errorf("start requires plane=<id>. %s", Usage)
		}
		return cmd, nil

	case KindStop, KindStatus:
		if len(args) > 0 {
			return nil, fmt.Errorf("%s takes no arguments. %s", verb, Usage)
		}
		return &Command{Kind: verb}, nil

	default:
		return nil, fmt.Errorf("unknown command %q. %s", fields[0], Usage)
	}
}

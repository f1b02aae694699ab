package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type Command string

const (
	CommandNone    Command = ""
	CommandConvert Command = "convert"
	CommandInfo    Command = "info"
	CommandFormats Command = "formats"
	CommandConfig  Command = "config"
)

type OutputFormat string

const (
	OutputYAML OutputFormat = "yaml"
	OutputJSON OutputFormat = "json"
)

type Options struct {
	Command Command
	// Format forces the reader format by name or extension.
	Format string
	// Expect is the mode expectation: i, I, v, V or ?.
	Expect     string
	Options    map[string]string
	Chdir      string
	To         string
	Jobs       int
	Output     OutputFormat
	ConfigPath string
	Init       bool
	Force      bool
	Verbose    bool
	Help       bool
	Args       []string
}

func Parse(args []string) (Options, error) {
	opts := Options{Expect: "?", Output: OutputYAML}
	if len(args) == 0 {
		return opts, fmt.Errorf("no command specified")
	}

	switch args[0] {
	case "-h", "--help", "help":
		opts.Help = true
		return opts, nil
	}
	cmd := Command(args[0])
	switch cmd {
	case CommandConvert, CommandInfo, CommandFormats, CommandConfig:
		opts.Command = cmd
	default:
		return opts, fmt.Errorf("unknown command %q", args[0])
	}
	args = args[1:]

	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			opts.Args = append(opts.Args, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			opts.Args = append(opts.Args, a)
			continue
		}
		if strings.HasPrefix(a, "--") {
			name, value, hasValue := strings.Cut(a[2:], "=")
			switch name {
			case "format", "expect", "option", "to", "jobs", "output", "config":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				if err := setValue(&opts, name, v); err != nil {
					return opts, err
				}
			case "chdir":
				v, nextI, err := resolveValue(name, value, hasValue, args, i)
				if err != nil {
					return opts, err
				}
				i = nextI
				opts.Chdir = v
			case "init":
				opts.Init = true
			case "force":
				opts.Force = true
			case "verbose":
				opts.Verbose = true
			case "help":
				opts.Help = true
			default:
				return opts, fmt.Errorf("unsupported option --%s", name)
			}
			continue
		}

		shorts := a[1:]
		for j := 0; j < len(shorts); j++ {
			s := shorts[j]
			switch s {
			case 'v':
				opts.Verbose = true
			case 'h':
				opts.Help = true
			case 'f', 'o', 'j', 'C':
				var val string
				if j+1 < len(shorts) {
					val = strings.TrimPrefix(shorts[j+1:], "=")
				} else {
					i++
					if i >= len(args) {
						return opts, fmt.Errorf("option -%c requires an argument", s)
					}
					val = args[i]
				}
				var err error
				switch s {
				case 'f':
					err = setValue(&opts, "format", val)
				case 'o':
					err = setValue(&opts, "option", val)
				case 'j':
					err = setValue(&opts, "jobs", val)
				case 'C':
					opts.Chdir = val
				}
				if err != nil {
					return opts, err
				}
				j = len(shorts)
			default:
				return opts, fmt.Errorf("unsupported option -%c", s)
			}
		}
	}

	if opts.Help {
		return opts, nil
	}
	return opts, validate(opts)
}

func setValue(opts *Options, name, v string) error {
	switch name {
	case "format":
		opts.Format = v
	case "expect":
		if len(v) != 1 || !strings.ContainsAny(v, "iIvV?") {
			return fmt.Errorf("option --expect requires one of i, I, v, V, ?")
		}
		opts.Expect = v
	case "option":
		kv, err := ParseOptions(v)
		if err != nil {
			return err
		}
		if opts.Options == nil {
			opts.Options = make(map[string]string, len(kv))
		}
		for k, val := range kv {
			opts.Options[k] = val
		}
	case "to":
		opts.To = strings.TrimPrefix(v, ".")
	case "jobs":
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("option --jobs requires a positive integer")
		}
		opts.Jobs = n
	case "output":
		switch OutputFormat(v) {
		case OutputYAML, OutputJSON:
			opts.Output = OutputFormat(v)
		default:
			return fmt.Errorf("option --output must be yaml or json")
		}
	case "config":
		opts.ConfigPath = v
	}
	return nil
}

func validate(opts Options) error {
	switch opts.Command {
	case CommandConvert:
		switch {
		case len(opts.Args) == 0:
			return fmt.Errorf("convert requires at least one input")
		case opts.To == "" && len(opts.Args) != 2:
			return fmt.Errorf("convert requires <input> <output>, or --to with one or more inputs")
		}
	case CommandInfo:
		if len(opts.Args) == 0 {
			return fmt.Errorf("info requires at least one input")
		}
	case CommandFormats, CommandConfig:
		if len(opts.Args) > 0 {
			return fmt.Errorf("%s takes no arguments", opts.Command)
		}
	}
	if opts.Init && opts.Command != CommandConfig {
		return fmt.Errorf("option --init is only valid for config")
	}
	return nil
}

// ParseOptions parses key=value pairs joined by '&', as in a URL query.
// Every key needs exactly one non-empty value.
func ParseOptions(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}

	val, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(val))
	for k, v := range val {
		if len(v) > 1 {
			return nil, fmt.Errorf("option %s has multiple values", k)
		}
		if v[0] == "" {
			return nil, fmt.Errorf("option %s has no value", k)
		}
		out[k] = v[0]
	}
	return out, nil
}

func resolveValue(name, inline string, hasInline bool, args []string, i int) (string, int, error) {
	if hasInline {
		return inline, i, nil
	}
	i++
	if i >= len(args) {
		return "", i, fmt.Errorf("option --%s requires a value", name)
	}
	return args[i], i, nil
}

package cli

import "fmt"

func HelpText(program string) string {
	if program == "" {
		program = "imgio"
	}
	return fmt.Sprintf(`%s - read and write images and arrays across files, archives and the network

Usage:
  %s convert [options] <input> <output>
  %s convert [options] --to <ext> [-C <dir>] <input>...
  %s info [options] <input>...
  %s formats
  %s config [--config <path>] [--init [--force]]

Resources:
  path/to/file.png            local file
  archive.zip/inner/file.png  member of a zip archive
  http(s)://, ftp(s)://       read only
  s3://bucket/key, S3 ARN     read and write
  -                           stdin for input, stdout for output

Options:
  -f, --format <name>         Read with this format instead of searching
  --expect <i|I|v|V|?>        Expected item kind (default: ?)
  -o, --option <k=v[&k=v]>    Format option, repeatable (example: -o quality=90)
  --to <ext|format>           Output extension for batch conversion
  -C, --chdir <dir>           Output directory for batch conversion
  -j, --jobs <n>              Parallel conversions (default: config convert.jobs)
  --output <yaml|json>        Encoding of info output (default: yaml)
  --config <path>             Config file (default: $XDG_CONFIG_HOME/imgio/config.yaml)
  --init                      Write the default config file
  --force                     Overwrite an existing config file with --init
  -v, --verbose               Debug logging and progress output
  -h, --help                  Show this help message
`, program, program, program, program, program, program)
}

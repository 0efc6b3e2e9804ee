package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vellum/types"
)

// textTypes are file types sent as plain text. Everything else is
// base64-encoded.
var textTypes = map[string]bool{
	"txt":  true,
	"md":   true,
	"html": true,
	"htm":  true,
	"csv":  true,
	"tsv":  true,
	"json": true,
	"xml":  true,
}

// inputFlags selects the content to send. Shared by generate and estimate.
func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Input file (- for stdin)",
		},
		&cli.StringFlag{
			Name:    "text",
			Aliases: []string{"t"},
			Usage:   "Inline text content",
		},
	}
}

// payload is resolved request content.
type payload struct {
	content string
	file    *types.FileMeta
}

// readPayload resolves --input or --text. Exactly one must be given.
func readPayload(c *cli.Context) (payload, error) {
	input, text := c.String("input"), c.String("text")
	switch {
	case input != "" && text != "":
		return payload{}, errors.New("--input and --text are mutually exclusive")
	case text != "":
		return payload{content: text}, nil
	case input == "":
		return payload{}, errors.New("one of --input or --text is required")
	case input == "-":
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return payload{}, fmt.Errorf("read stdin: %w", err)
		}
		return payload{content: string(data)}, nil
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return payload{}, fmt.Errorf("read input: %w", err)
	}
	name := filepath.Base(input)
	meta := &types.FileMeta{Name: name, Type: types.InferFileType(name)}
	if textTypes[meta.Type] {
		return payload{content: string(data), file: meta}, nil
	}
	return payload{content: base64.StdEncoding.EncodeToString(data), file: meta}, nil
}

// fileType is the type label used for estimates.
func (p payload) fileType() string {
	if p.file == nil {
		return "txt"
	}
	return p.file.Type
}

package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/checkerls/checkerls/server/wire"
	"github.com/spf13/cobra"
)

// maxLineSize bounds one worker response line.
const maxLineSize = 16 * 1024 * 1024

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decodes worker output read from stdin. For debugging purposes only",
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, err := decodeLines(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		} else if failed > 0 {
			return fmt.Errorf("%d line/s could not be decoded", failed)
		}
		return nil
	},
}

// decodeLines prints every entry of the batches read from r. Lines that
// cannot be decoded are reported to errOut and skipped.
func decodeLines(r io.Reader, out io.Writer, errOut io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	failed := 0
	lineNr := 0

	for scanner.Scan() {
		lineNr++

		batch, err := wire.DecodeLine(scanner.Bytes())
		if err != nil {
			failed++
			fmt.Fprintf(errOut, "line %d: %s\n", lineNr, err)
			continue
		}

		for _, entry := range batch.Entries {
			fmt.Fprintln(out, formatEntry(entry))
		}
	}

	return failed, scanner.Err()
}

func formatEntry(entry wire.Entry) string {
	switch e := entry.(type) {
	case wire.Ordinary:
		d := e.Diagnostic
		if len(d.Code) != 0 {
			return fmt.Sprintf("%s:%s: %s: %s [%s]", d.File, d.Range, d.Severity, d.Message, d.Code)
		}
		return fmt.Sprintf("%s:%s: %s: %s", d.File, d.Range, d.Severity, d.Message)
	case wire.TypeNote:
		info := e.Info
		return fmt.Sprintf("%s:%s: hover: %s (%s): %s", info.File, info.Range, info.Checker, info.Tag(), info.Type)
	case wire.Unrecognized:
		return fmt.Sprintf("%s: unrecognized: %s", e.File(), e.Err)
	default:
		return fmt.Sprintf("%v", entry)
	}
}

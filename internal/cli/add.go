package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/carrel/internal/library"
	"github.com/roach88/carrel/internal/wire"
)

// documentInput is the JSON shape the add command reads.
type documentInput struct {
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	ContentType wire.ContentType `json:"content_type"`
	Content     json.RawMessage  `json:"content"`
	Tags        []string         `json:"tags,omitempty"`
	Language    string           `json:"language,omitempty"`
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <document.json>",
		Short: "Add a document to the library",
		Long: `Add a document from a JSON file (or stdin with "-").

The file declares the title, the content type and the structured content:

  {
    "title": "Morning routine",
    "content_type": "checklist",
    "content": {"items": [{"text": "Wake up at 6"}]},
    "tags": ["habits"]
  }

Example:
  carrel add routine.json
  cat routine.json | carrel add -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runAdd(opts *RootOptions, path string, cmd *cobra.Command) error {
	data, err := readInput(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read document", err)
	}

	var input documentInput
	if err := json.Unmarshal(data, &input); err != nil {
		return WrapExitError(ExitCommandError, "parse document", err)
	}
	content, err := wire.DecodeContent(input.ContentType, input.Content)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse document content", err)
	}

	doc := &library.Document{
		Title:       input.Title,
		Description: input.Description,
		Content:     content,
		Tags:        input.Tags,
		Language:    input.Language,
	}
	app, err := openApp(opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.svc.CreateDocument(cmd.Context(), doc); err != nil {
		return WrapExitError(ExitCommandError, "add document", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(map[string]string{"id": doc.ID}, func(w io.Writer) {
		fmt.Fprintf(w, "added %s (%s)\n", doc.ID, doc.Kind)
	})
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

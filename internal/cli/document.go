package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"docqa/internal/models"

	"github.com/spf13/cobra"
)

var (
	docsAll  bool
	docsJSON bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Ingest a PDF and wait until it is ready",
	Long: `Extracts, chunks and embeds a PDF in this process. The document is
stored in the configured database, so a running server can answer
questions about it too.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runDocs,
}

var rmCmd = &cobra.Command{
	Use:   "rm <document-id>",
	Short: "Delete a document, its vectors and its chat history",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	docsCmd.Flags().BoolVarP(&docsAll, "all", "a", false, "include documents still being ingested")
	docsCmd.Flags().BoolVar(&docsJSON, "json", false, "output documents as JSON")
	rootCmd.AddCommand(ingestCmd, docsCmd, rmCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	doc, err := a.Ingest.IngestSync(cmd.Context(), filepath.Base(path), data)
	if doc != nil {
		printDocument(cmd, doc)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func runDocs(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	docs, err := a.Ingest.List(cmd.Context(), docsAll)
	if err != nil {
		return err
	}

	if docsJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal documents: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(docs) == 0 {
		cmd.Println("No documents.")
		return nil
	}
	for _, doc := range docs {
		printDocument(cmd, doc)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp()
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Ingest.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func printDocument(cmd *cobra.Command, doc *models.Document) {
	cmd.Printf("%s  %s  %s\n", bold(doc.ID), statusColor(string(doc.Status)), doc.Filename)
	cmd.Printf("    %s\n", faint(fmt.Sprintf("%d pages, %d chunks, uploaded %s",
		doc.PageCount, doc.ChunkCount, doc.UploadedAt.Local().Format("2006-01-02 15:04"))))
	if doc.Error != "" {
		cmd.Printf("    %s %s\n", red("error:"), doc.Error)
	}
}

package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/document"
	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/store"
)

// newDocCmd creates the document command group.
func newDocCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Import and manage chunked documents",
	}

	cmd.AddCommand(newDocImportCmd(opts))
	cmd.AddCommand(newDocListCmd(opts))
	cmd.AddCommand(newDocShowCmd(opts))
	cmd.AddCommand(newDocEditCmd(opts))
	cmd.AddCommand(newDocReorderCmd(opts))
	cmd.AddCommand(newDocRmChunkCmd(opts))
	cmd.AddCommand(newDocDeleteCmd(opts))
	cmd.AddCommand(newDocVerifyCmd(opts))
	return cmd
}

// resolveDocument finds a document by exact id, unique id prefix, or
// exact title.
func resolveDocument(ctx context.Context, st *store.Store, ref string) (*store.Document, error) {
	if doc, err := st.GetDocument(ctx, ref); err == nil {
		return doc, nil
	}

	docs, err := st.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*store.Document
	for _, doc := range docs {
		if strings.HasPrefix(doc.ID, ref) || doc.Title == ref {
			matches = append(matches, doc)
		}
	}
	switch len(matches) {
	case 0:
		return nil, forerrors.NotFound("document", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, forerrors.New(forerrors.KindAmbiguousReference,
			"%q matches %d documents", ref, len(matches))
	}
}

func newDocImportCmd(opts *rootOptions) *cobra.Command {
	var title, strategy string
	var maxChars, overlap int
	var noRoot, noLink bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a markdown file as a chunked document",
		Long: `Split the file into segments, create one chunk note per segment plus
a root summary note, and wire structural edges. "-" reads stdin, in
which case --title is required.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body string
			sourceFile := ""
			if args[0] == "-" {
				if title == "" {
					return forerrors.Validation("--title is required when importing from stdin")
				}
				text, err := readStdin()
				if err != nil {
					return err
				}
				body = text
			} else {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				body = string(data)
				sourceFile = args[0]
				if title == "" {
					base := filepath.Base(args[0])
					title = strings.TrimSuffix(base, filepath.Ext(base))
				}
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				result, err := a.pipeline.Import(cmd.Context(), document.ImportInput{
					Title:         title,
					Body:          body,
					Strategy:      strategy,
					MaxChunkChars: maxChars,
					OverlapChars:  overlap,
					NoRoot:        noRoot,
					NoAutoLink:    noLink,
					SourceFile:    sourceFile,
				})
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())

				if opts.jsonOutput {
					return printJSON(result)
				}
				a.render.Success("imported %s as %d chunks (document %s)",
					title, len(result.ChunkNodeIDs), result.DocumentID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (default: file name)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Chunking strategy: headers, size, or hybrid")
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Maximum chunk size for size/hybrid strategies")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Overlap between size-split chunks")
	cmd.Flags().BoolVar(&noRoot, "no-root", false, "Skip the root summary note")
	cmd.Flags().BoolVar(&noLink, "no-link", false, "Skip automatic linking")

	return cmd
}

func newDocListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				docs, err := a.store.ListDocuments(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(docs)
				}
				for _, doc := range docs {
					source := ""
					if doc.Metadata.SourceFile != "" {
						source = "  " + doc.Metadata.SourceFile
					}
					a.render.Printf("%.8s  v%d  %s%s\n", doc.ID, doc.Version, doc.Title, source)
				}
				return nil
			})
		},
	}
}

func newDocShowCmd(opts *rootOptions) *cobra.Command {
	var showBody bool

	cmd := &cobra.Command{
		Use:   "show <doc>",
		Short: "Show a document and its chunk map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				doc, err := resolveDocument(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				rows, err := a.store.ChunksForDocument(cmd.Context(), doc.ID)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(map[string]any{"document": doc, "chunks": rows})
				}
				a.render.Printf("%s  v%d  (%d chunks)\n", doc.Title, doc.Version, len(rows))
				for _, row := range rows {
					a.render.Printf("  [%d] segment %.8s  note %.8s  %d bytes\n",
						row.ChunkOrder, row.SegmentID, row.NodeID, row.Length)
				}
				if showBody {
					a.render.Printf("\n%s\n", doc.Body)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showBody, "body", false, "Print the canonical body")

	return cmd
}

func newDocEditCmd(opts *rootOptions) *cobra.Command {
	var body string

	cmd := &cobra.Command{
		Use:   "edit <doc> <segment-id>",
		Short: "Rewrite one segment of a document",
		Long: `Replace a segment's content. Offsets reflow, the chunk re-embeds and
rescores, and the document version bumps once. Unchanged segments keep
their notes and edges.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "-" || body == "" {
				text, err := readStdin()
				if err != nil {
					return err
				}
				body = text
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				doc, err := resolveDocument(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				err = a.pipeline.EditSegments(cmd.Context(), doc.ID, []document.SegmentEdit{
					{SegmentID: args[1], NewContent: body},
				})
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("edited segment %.8s of %s", args[1], doc.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&body, "body", "b", "", `New segment content ("-" or empty reads stdin)`)

	return cmd
}

func newDocReorderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <doc> <segment-id>...",
		Short: "Reorder a document's segments",
		Long:  `The segment ids must be a complete permutation of the document's chunks.`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				doc, err := resolveDocument(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.pipeline.Reorder(cmd.Context(), doc.ID, args[1:]); err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("reordered %s", doc.Title)
				return nil
			})
		},
	}
}

func newDocRmChunkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-chunk <doc> <segment-id>",
		Short: "Delete one chunk from a document",
		Long:  `Removes the chunk note, compacts chunk order, and reflows offsets. Deleting the last chunk removes the document.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				doc, err := resolveDocument(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.pipeline.DeleteChunk(cmd.Context(), doc.ID, args[1]); err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("removed segment %.8s from %s", args[1], doc.Title)
				return nil
			})
		},
	}
}

func newDocDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc>",
		Short: "Delete a document with its chunks and root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				doc, err := resolveDocument(cmd.Context(), a.store, args[0])
				if err != nil {
					return err
				}
				if err := a.pipeline.Delete(cmd.Context(), doc.ID); err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("deleted %s", doc.Title)
				return nil
			})
		},
	}
}

func newDocVerifyCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [doc]",
		Short: "Check document integrity invariants",
		Long: `Verify dense chunk order, offset/length agreement with the canonical
body, checksums, and structural edges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return cmd.Help()
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				var docs []*store.Document
				if all {
					var err error
					if docs, err = a.store.ListDocuments(cmd.Context()); err != nil {
						return err
					}
				} else {
					doc, err := resolveDocument(cmd.Context(), a.store, args[0])
					if err != nil {
						return err
					}
					docs = []*store.Document{doc}
				}

				failed := 0
				for _, doc := range docs {
					if err := a.pipeline.Verify(cmd.Context(), doc.ID); err != nil {
						failed++
						a.render.Error("%s: %v", doc.Title, err)
						continue
					}
					a.render.Success("%s: ok", doc.Title)
				}
				if failed > 0 {
					return forerrors.New(forerrors.KindDocumentIntegrity,
						"%d of %d documents failed verification", failed, len(docs))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Verify every document")

	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scantrack/internal/core"
	"scantrack/pkg/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage beamline and template configuration",
}

var (
	beamlineVisit     string
	beamlineScan      string
	beamlineDetector  string
	beamlineDirectory string
	beamlineExtension string
)

var configBeamlineCmd = &cobra.Command{
	Use:   "beamline <name>",
	Short: "Register a beamline or update its templates and directory",
	Long: `Register a beamline, creating it when absent and updating its template
references otherwise. Template flags take template content; identical content
reuses the stored record.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigBeamline,
}

var configTemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage path templates",
}

var configTemplateAddCmd = &cobra.Command{
	Use:   "add <kind> <content>",
	Short: "Add a template (kind: visit, scan, detector)",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigTemplateAdd,
}

var configTemplateListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List stored templates, optionally limited to one kind",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigTemplateList,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configBeamlineCmd)
	configCmd.AddCommand(configTemplateCmd)
	configTemplateCmd.AddCommand(configTemplateAddCmd)
	configTemplateCmd.AddCommand(configTemplateListCmd)

	configBeamlineCmd.Flags().StringVar(&beamlineVisit, "visit", "", "visit directory template content")
	configBeamlineCmd.Flags().StringVar(&beamlineScan, "scan", "", "scan file template content")
	configBeamlineCmd.Flags().StringVar(&beamlineDetector, "detector", "", "detector file template content")
	configBeamlineCmd.Flags().StringVar(&beamlineDirectory, "directory", "", "tracked output directory")
	configBeamlineCmd.Flags().StringVar(&beamlineExtension, "extension", "", "tracked file extension")
	configBeamlineCmd.MarkFlagsRequiredTogether("directory", "extension")
}

// openService opens the configured store and wraps it in a service for
// one-shot administrative commands.
func openService() (*core.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg.Log)
	store, err := core.OpenStore(cfg.Storage.Driver, cfg.Storage.SQLitePath, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	svc := core.NewService(store, core.WithLogger(core.NewSlogLogger(log)))
	return svc, func() { _ = store.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runConfigBeamline(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()
	ctx := cmd.Context()
	name := args[0]

	refs, err := templateRefs(ctx, svc)
	if err != nil {
		return err
	}

	beamline, err := svc.RegisterBeamline(ctx, name, refs)
	if errors.As(err, &domain.ErrDuplicateBeamline{}) {
		beamline, err = svc.UpdateTemplates(ctx, name, refs)
	}
	if err != nil {
		return err
	}

	if beamlineDirectory != "" {
		if _, err := svc.SetDirectory(ctx, name, beamlineDirectory, beamlineExtension); err != nil {
			return err
		}
	}
	return printJSON(beamline)
}

// templateRefs creates the templates named on the command line and returns
// their references. Unset flags leave the corresponding reference nil.
func templateRefs(ctx context.Context, svc *core.Service) (domain.TemplateRefs, error) {
	var refs domain.TemplateRefs
	for _, spec := range []struct {
		kind    domain.TemplateKind
		content string
		dest    **string
	}{
		{domain.KindVisit, beamlineVisit, &refs.Visit},
		{domain.KindScan, beamlineScan, &refs.Scan},
		{domain.KindDetector, beamlineDetector, &refs.Detector},
	} {
		if spec.content == "" {
			continue
		}
		tpl, err := svc.CreateTemplate(ctx, spec.kind, spec.content)
		if err != nil {
			return domain.TemplateRefs{}, fmt.Errorf("%s template: %w", spec.kind, err)
		}
		id := tpl.ID
		*spec.dest = &id
	}
	return refs, nil
}

func runConfigTemplateAdd(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	tpl, err := svc.CreateTemplate(cmd.Context(), domain.TemplateKind(args[0]), args[1])
	if err != nil {
		return err
	}
	return printJSON(tpl)
}

func runConfigTemplateList(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()
	ctx := cmd.Context()

	kinds := domain.Kinds()
	if len(args) == 1 {
		kind := domain.TemplateKind(args[0])
		if !kind.Valid() {
			return fmt.Errorf("unknown template kind %s", args[0])
		}
		kinds = []domain.TemplateKind{kind}
	}

	out := map[string][]domain.Template{}
	for _, kind := range kinds {
		templates, err := svc.ListTemplates(ctx, kind)
		if err != nil {
			return err
		}
		out[string(kind)] = templates
	}
	return printJSON(out)
}

package cmd

import (
	"fmt"
	"io"

	"github.com/harrison/ultrasession/internal/acq"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMetaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta <expdir> <timestamp>",
		Short: "Print the metadata of one run as YAML",
		Long: `Locate the run named <timestamp> anywhere below <expdir> and print every
metadata attribute derived from its directory: capture header, imaging
parameters, stimulus, sync statistics and runtime variables. Unavailable
attributes print as null.`,
		Args: exactArgs(2),
		RunE: runMeta,
	}
	cmd.Flags().StringSlice("fields", nil, "Print only these attributes, in order")
	cmd.Flags().String("params-file", acq.DefaultParamsFile, "Parameter sidecar name")
	return cmd
}

func runMeta(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kind, err := acq.LookupKind(cfg.ArtifactKind)
	if err != nil {
		return err
	}
	paramsFile, _ := cmd.Flags().GetString("params-file")

	m, err := acq.Open(args[0], args[1], kind, acq.WithParamsFile(paramsFile))
	if err != nil {
		if acq.IsTimestampFormatError(err) {
			return &ArgumentError{Msg: "invalid timestamp", Err: err}
		}
		return err
	}
	sum, err := m.Gather()
	if err != nil {
		return err
	}

	fields, _ := cmd.Flags().GetStringSlice("fields")
	if len(fields) == 0 {
		return writeYAML(cmd.OutOrStdout(), sum)
	}

	values, err := sum.Fields(fields...)
	if err != nil {
		return &ArgumentError{Msg: "invalid --fields", Err: err}
	}
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for i, name := range fields {
		var valNode yaml.Node
		if err := valNode.Encode(values[i]); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &valNode)
	}
	return writeYAML(cmd.OutOrStdout(), doc)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}
	return enc.Close()
}

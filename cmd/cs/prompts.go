package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/callsheet/internal/prompts"
)

func newPromptsCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect and edit prompt profiles",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to callsheet config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newPromptsShowCmd(&configPath, &envFile))
	cmd.AddCommand(newPromptsSetCmd(&configPath, &envFile))
	return cmd
}

func newPromptsShowCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <profile>",
		Short: "Print the instruction and template of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPromptStore(*configPath, *envFile)
			if err != nil {
				return err
			}
			p, err := parseProfileArg(args[0])
			if err != nil {
				return err
			}
			pair := store.Get(p)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s instruction (%s)\n%s\n\n", p, store.Path(p, prompts.Instruction), pair.Instruction)
			fmt.Fprintf(out, "# %s template (%s)\n%s\n", p, store.Path(p, prompts.Template), pair.Template)
			return nil
		},
	}
}

func newPromptsSetCmd(configPath, envFile *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "set <profile> <instruction|template>",
		Short: "Replace one field of a profile",
		Long:  "Replaces the instruction or template of a profile with the contents of a file, or of stdin when -f is -.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPromptStore(*configPath, *envFile)
			if err != nil {
				return err
			}
			p, err := parseProfileArg(args[0])
			if err != nil {
				return err
			}
			f, ok := prompts.ParseField(args[1])
			if !ok {
				return fmt.Errorf("unknown field %q (want %s or %s)", args[1], prompts.Instruction, prompts.Template)
			}

			r, err := stdinOr(file)
			if err != nil {
				return err
			}
			defer r.Close()
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			if !store.Save(p, f, string(data)) {
				return fmt.Errorf("save %s %s to %s failed", p, f, store.Path(p, f))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %s (%s)\n", p, f, store.Path(p, f))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with the new text, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func openPromptStore(configPath, envFile string) (*prompts.Store, error) {
	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return nil, err
	}
	return prompts.NewStore(prompts.StoreOpts{Dir: cfg.Prompts.Dir})
}

func parseProfileArg(s string) (prompts.Profile, error) {
	p := prompts.Profile(s)
	if !prompts.IsKnown(p) {
		return "", fmt.Errorf("unknown profile %q (want one of %v)", s, prompts.Profiles())
	}
	return p, nil
}

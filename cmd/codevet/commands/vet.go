package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/spf13/cobra"
)

var (
	vetLicense string
	vetRepo    string
	vetJSON    bool
)

var vetCmd = &cobra.Command{
	Use:   "vet <file>",
	Short: "Vet a single local file and print the verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target, err := vetTarget(vetRepo, vetLicense)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		a := artifact.FromSource(artifact.PlatformLocal, target, artifact.SourceFile{
			Path:      filepath.ToSlash(filepath.Base(args[0])),
			Content:   string(content),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})

		vetter, err := newVetter(cfg, nil, false, logger)
		if err != nil {
			return err
		}
		v, err := vetter.Vet(cmd.Context(), a)
		if err != nil {
			return err
		}

		if vetJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		fmt.Fprint(cmd.OutOrStdout(), renderVerdict(v))
		return nil
	},
}

func init() {
	vetCmd.Flags().StringVar(&vetLicense, "license", "", "SPDX license of the file's repository")
	vetCmd.Flags().StringVar(&vetRepo, "repo", "local/scratch", "Repository the file belongs to (owner/name)")
	vetCmd.Flags().BoolVar(&vetJSON, "json", false, "Print the verdict as JSON")
}

func vetTarget(repo, license string) (artifact.RepositoryTarget, error) {
	owner, name, err := artifact.ParseKey(repo)
	if err != nil {
		return artifact.RepositoryTarget{}, err
	}
	return artifact.RepositoryTarget{
		Owner:    owner,
		Name:     name,
		Priority: artifact.PriorityMedium,
		License:  license,
	}, nil
}

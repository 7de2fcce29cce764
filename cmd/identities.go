package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:     "identities",
	Aliases: []string{"list"},
	Short:   "List all enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentities(cmd.Context())
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <label> <new_label>",
	Short: "Rename an enrolled identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRename(cmd.Context(), args[0], args[1])
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <label>",
	Short: "Remove every reference embedding of an identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		n, err := DB.DeleteIdentity(cmd.Context(), args[0])
		if err != nil {
			utils.ShowError("Failed to remove identity", err, nil)
			return err
		}
		if n == 0 {
			fmt.Printf("❌ No identity named '%s'\n", args[0])
			return nil
		}
		fmt.Printf("🗑️  Removed %d embeddings of '%s'\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(forgetCmd)
}

func runIdentities(ctx context.Context) error {
	identities, err := DB.ListIdentities(ctx)
	if err != nil {
		utils.ShowError("Failed to list identities", err, nil)
		return err
	}

	if len(identities) == 0 {
		fmt.Println("No identities enrolled. Run `turnstile enroll` first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tEMBEDDINGS\tLAST ENROLLED")
	fmt.Fprintln(w, "----\t----------\t-------------")

	for _, id := range identities {
		fmt.Fprintf(w, "%s\t%d\t%s\n", id.Label, id.Count, id.LastEnrolled.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runRename(ctx context.Context, label, newLabel string) error {
	n, err := DB.RenameIdentity(ctx, label, newLabel)
	if err != nil {
		utils.ShowError("Failed to rename identity", err, nil)
		return err
	}
	if n == 0 {
		fmt.Printf("❌ No identity named '%s'\n", label)
		return nil
	}
	fmt.Printf("✅ Identity '%s' renamed to '%s' (%d embeddings)\n", label, newLabel, n)
	return nil
}

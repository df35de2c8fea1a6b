package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/porthorian/consoleauth/pkg/authz"
	"github.com/porthorian/consoleauth/pkg/session"
)

type maskFlags struct {
	mask string
	role string
}

func init() {
	rootCmd.AddCommand(newRolesCommand())
	rootCmd.AddCommand(newAccessCommand())
	rootCmd.AddCommand(newCheckCommand())
}

func newRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List console roles and their capability masks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tMASK\tCAPABILITIES")
			for _, role := range authz.Roles() {
				mask, err := authz.MaskForRole(role)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", role, uint64(mask), mask)
			}
			return w.Flush()
		},
	}
}

func newAccessCommand() *cobra.Command {
	var flags maskFlags

	cmd := &cobra.Command{
		Use:   "access",
		Short: "Print the console access table",
		Long:  "Print every module and item with the mask that guards it. With --mask or --role only entries that mask may open are shown.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			modules := authz.Modules()
			if flags.mask != "" || flags.role != "" {
				mask, err := flags.resolve()
				if err != nil {
					return err
				}
				modules = authz.VisibleModules(mask)
			}
			return writeAccessTable(cmd.OutOrStdout(), modules)
		},
	}

	cmd.Flags().StringVar(&flags.mask, "mask", "", "Filter by a numeric permission mask.")
	cmd.Flags().StringVar(&flags.role, "role", "", "Filter by a role name, e.g. STOCK_ADMIN.")
	cmd.MarkFlagsMutuallyExclusive("mask", "role")
	return cmd
}

func newCheckCommand() *cobra.Command {
	var flags maskFlags
	var moduleID, itemID string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a mask may open a module or item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := flags.resolve()
			if err != nil {
				return err
			}

			required, err := authz.RequiredMask(moduleID, itemID)
			if err != nil {
				return err
			}

			target := moduleID
			if itemID != "" {
				target = moduleID + "/" + itemID
			}

			verdict := "denied"
			if authz.HasPermission(mask, required) {
				verdict = "allowed"
			}
			cmd.Printf("%s: mask %d (%s) on %s requiring %d (%s)\n", verdict, uint64(mask), mask, target, uint64(required), required)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.mask, "mask", "", "Numeric permission mask to check.")
	cmd.Flags().StringVar(&flags.role, "role", "", "Role whose mask to check, e.g. ORDER_ADMIN.")
	cmd.Flags().StringVar(&moduleID, "module", "", "Module id, e.g. 2.")
	cmd.Flags().StringVar(&itemID, "item", "", "Item id within the module, e.g. 2-1. Omit to check the module itself.")
	cmd.MarkFlagsMutuallyExclusive("mask", "role")
	cmd.MarkFlagsOneRequired("mask", "role")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func (f maskFlags) resolve() (authz.Mask, error) {
	if f.role != "" {
		role, err := authz.ParseRole(strings.ToUpper(strings.TrimSpace(f.role)))
		if err != nil {
			return 0, err
		}
		return authz.MaskForRole(role)
	}
	if f.mask == "" {
		return 0, errors.New("one of --mask or --role is required")
	}
	return session.PermissionValue(strings.TrimSpace(f.mask)).Mask()
}

func writeAccessTable(out io.Writer, modules []authz.Module) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tREQUIRED\tROLES")
	for _, module := range modules {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", module.ID, module.Title, uint64(module.Required), module.Required)
		for _, it := range module.Items {
			names := make([]string, 0, len(it.Roles))
			for _, role := range it.Roles {
				names = append(names, role.String())
			}
			fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n", it.ID, it.Title, uint64(it.Required), strings.Join(names, ","))
		}
	}
	return w.Flush()
}

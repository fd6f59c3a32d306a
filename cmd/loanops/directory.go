package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loanops/internal/domain"
	"loanops/internal/engine"
)

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}
	user.AddCommand(userUpsertCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userActiveCmd("activate", true))
	user.AddCommand(userActiveCmd("deactivate", false))
	return user
}

func userUpsertCmd() *cobra.Command {
	var in engine.UserInput
	var inactive bool
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("inactive") {
				active := !inactive
				in.IsActive = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.UpsertUser(ctx, actorID(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "user id")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store the user as inactive")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				t := newTable("ID", "NAME", "EMAIL", "ACTIVE")
				for _, u := range users {
					t.AppendRow(table.Row{u.ID, u.Name, u.Email, u.IsActive})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive users")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userActiveCmd(use string, active bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a user %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.SetUserActive(ctx, actorID(), args[0], active)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func hierarchyCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "hierarchy",
		Short: "Manage reporting lines",
		Long:  "Each user reports to at most one manager. Assignments that would close a loop are rejected with the offending path.",
	}
	h.AddCommand(hierarchyAssignCmd())
	h.AddCommand(hierarchyRemoveCmd())
	h.AddCommand(hierarchyTreeCmd())
	h.AddCommand(hierarchyManagerCmd())
	h.AddCommand(hierarchySubordinatesCmd())
	return h
}

func hierarchyAssignCmd() *cobra.Command {
	var subordinate, manager string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Set the manager of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edge, err := e.AssignManager(ctx, actorID(), subordinate, manager)
				if err != nil {
					return err
				}
				return printJSONOrTable(edge)
			})
		},
	}
	cmd.Flags().StringVar(&subordinate, "subordinate", "", "subordinate user id")
	cmd.Flags().StringVar(&manager, "manager", "", "manager user id")
	_ = cmd.MarkFlagRequired("subordinate")
	_ = cmd.MarkFlagRequired("manager")
	return cmd
}

func hierarchyRemoveCmd() *cobra.Command {
	var subordinate string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the manager of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				removed, err := e.RemoveManager(ctx, actorID(), subordinate)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"subordinate_id": subordinate, "removed": removed})
			})
		},
	}
	cmd.Flags().StringVar(&subordinate, "subordinate", "", "subordinate user id")
	_ = cmd.MarkFlagRequired("subordinate")
	return cmd
}

func hierarchyTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the organisation tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				forest, err := e.GetTree(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(forest)
				}
				if len(forest) == 0 {
					fmt.Println("(no users)")
					return nil
				}
				for _, root := range forest {
					fmt.Println(nodeLabel(root))
					for i, child := range root.Subordinates {
						printTree(child, "", i == len(root.Subordinates)-1)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func hierarchyManagerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager <user-id>",
		Short: "Show the direct manager of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ManagerOf(ctx, args[0])
				if err != nil {
					return err
				}
				if m == nil && !viper.GetBool("json") {
					fmt.Printf("%s has no manager\n", args[0])
					return nil
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func hierarchySubordinatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subordinates <user-id>",
		Short: "List the direct reports of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				subs, err := e.SubordinatesOf(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subs)
				}
				t := newTable("ID", "NAME", "ACTIVE")
				for _, u := range subs {
					t.AppendRow(table.Row{u.ID, u.Name, u.IsActive})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func nodeLabel(n domain.HierarchyNode) string {
	label := fmt.Sprintf("%s (%s)", n.User.Name, n.User.ID)
	if !n.User.IsActive {
		label += " [inactive]"
	}
	return label
}

func printTree(n domain.HierarchyNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, nodeLabel(n))
	for i, c := range n.Subordinates {
		printTree(c, newPrefix, i == len(n.Subordinates)-1)
	}
}
